package app

// AccessPolicy decides whether a display name may enter a room.
// Synchronous and side-effect-free; the relay consults it once per join.
type AccessPolicy interface {
	Authorized(displayName string) bool
}

// AllowAll admits every non-empty name.
type AllowAll struct{}

func (AllowAll) Authorized(displayName string) bool {
	return displayName != ""
}

// Denylist rejects a fixed set of names and admits everything else.
type Denylist map[string]struct{}

func NewDenylist(names ...string) Denylist {
	d := make(Denylist, len(names))
	for _, n := range names {
		d[n] = struct{}{}
	}
	return d
}

func (d Denylist) Authorized(displayName string) bool {
	if displayName == "" {
		return false
	}
	_, blocked := d[displayName]
	return !blocked
}
