package heating

import "errors"

var (
	ErrZoneNotFound       = errors.New("zone not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNoSensors          = errors.New("room has no temperature sensors")
	ErrNoRoomTemperature  = errors.New("room temperature unavailable")
	ErrInvalidParams      = errors.New("invalid controller parameters")
	ErrUpdateFailed       = errors.New("update pass failed")
	ErrInvalidDemandMode  = errors.New("invalid heating demand mode")
	ErrInvalidTemperature = errors.New("invalid temperature")
)
