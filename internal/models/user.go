package models

// User is the signed-in profile. Only updates are queued for it.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	DefaultCurrency string `json:"default_currency,omitempty"`
}

func (u *User) Apply(p *UserPayload) {
	if p == nil {
		return
	}
	u.Name = p.Name
	u.Email = p.Email
	u.DefaultCurrency = p.DefaultCurrency
}
