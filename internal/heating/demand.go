package heating

// zoneDemand combines per-room results into one zone-level demand signal.
//
// An active boost anywhere in the zone pre-empts the configured mode. In
// any_room mode demand follows any room's heat-needed flag; in zone_average
// mode the mean room temperature is compared against the mean target minus
// the deadband, ignoring rooms with missing values.
func zoneDemand(rooms map[string]*RoomState, mode DemandMode, deadband float64) bool {
	for _, room := range rooms {
		if room.Boost != nil {
			return true
		}
	}

	if mode == DemandZoneAverage {
		var temps, targets []float64
		for _, room := range rooms {
			if room.Temperature != nil {
				temps = append(temps, *room.Temperature)
				targets = append(targets, room.Target)
			}
		}
		if len(temps) == 0 {
			return false
		}
		return mean(temps) < mean(targets)-deadband
	}

	for _, room := range rooms {
		if room.NeedsHeating {
			return true
		}
	}
	return false
}
