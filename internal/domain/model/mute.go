package model

// MuteType selects which voice capability a guild mute revokes.
type MuteType int

const (
	MuteMicrophone MuteType = 1
	MuteHeadset    MuteType = 2
)

func (t MuteType) Valid() bool { return t == MuteMicrophone || t == MuteHeadset }
