package authkit

// Account is the authenticated customer as reported by the platform API.
type Account struct {
	ID           string
	MobileNumber string
	Email        string
	FirstName    string
	LastName     string
	Active       bool
}

// Identity is the information collected when a signup begins.
type Identity struct {
	MobileNumber string
	Email        string
	FirstName    string
	LastName     string
}

// OptionalInfo is the non-mandatory profile data collected near the end of
// signup. Empty fields are omitted from the request.
type OptionalInfo struct {
	BloodType              string
	EmergencyContactName   string
	EmergencyContactMobile string
}
