package types

// ShippingAddress is embedded into orders as a JSONB snapshot taken at
// checkout time. Orders never reference a mutable address row.
type ShippingAddress struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	Notes      string `json:"notes,omitempty"`
}

// Contact identifies the person receiving an order. Phone is required
// because it doubles as the mobile-money billing number for guests.
type Contact struct {
	FullName string `json:"full_name" validate:"required"`
	Phone    string `json:"phone" validate:"required,e164"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}
