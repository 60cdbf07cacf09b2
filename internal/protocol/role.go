package protocol

// Role is one of the two complementary handshake positions.
type Role string

const (
	RoleUnassigned Role = ""
	RoleOfferer    Role = "offerer"
	RoleAnswerer   Role = "answerer"
)

// Valid reports whether r may be requested in a join.
func (r Role) Valid() bool {
	return r == RoleOfferer || r == RoleAnswerer
}

// Complement returns the other handshake role. Unassigned stays unassigned.
func (r Role) Complement() Role {
	switch r {
	case RoleOfferer:
		return RoleAnswerer
	case RoleAnswerer:
		return RoleOfferer
	default:
		return RoleUnassigned
	}
}

func (r Role) String() string {
	if r == RoleUnassigned {
		return "unassigned"
	}
	return string(r)
}
