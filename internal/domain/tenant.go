package domain

// Tenant identifies the organization a call operates on. Every repository
// query must filter by it; there is no ambient tenant state.
type Tenant struct {
	OrgID string
}

func (t Tenant) Valid() bool {
	return t.OrgID != ""
}
