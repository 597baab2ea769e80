package dispatch

// GameMasterLevel is the permission level of whoever runs a command. Levels are
// ordered; a caller may run any command whose level is at or below its own.
type GameMasterLevel int

const (
	Player GameMasterLevel = iota
	Mythran
	Moderator
	Admin
	Operator
	// Console is the level of commands typed into the server's own console.
	Console
)

func (l GameMasterLevel) String() string {
	switch l {
	case Player:
		return "Player"
	case Mythran:
		return "Mythran"
	case Moderator:
		return "Moderator"
	case Admin:
		return "Admin"
	case Operator:
		return "Operator"
	case Console:
		return "Console"
	default:
		return "Unknown"
	}
}
