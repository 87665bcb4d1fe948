package pipeline

// Selection says which sources a run covers.
type Selection struct {
	Mail  bool
	Local bool
}

// Select maps the --email and --imsg flags to sources. Naming neither runs both.
func Select(email, imsg bool) Selection {
	if !email && !imsg {
		return Selection{Mail: true, Local: true}
	}
	return Selection{Mail: email, Local: imsg}
}
