package timer

// Caller identifies who issued a control command.
type Caller struct {
	// Hostname is the machine name the command came from.
	Hostname string
	// Username is the system user who issued it.
	Username string
}

// Clone returns a copy of the caller.
func (c *Caller) Clone() *Caller {
	if c == nil {
		return nil
	}

	cloned := *c

	return &cloned
}

// String renders the caller as user@host for logs.
func (c *Caller) String() string {
	if c == nil {
		return "unknown"
	}

	return c.Username + "@" + c.Hostname
}
