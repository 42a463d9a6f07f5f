package authkit

// Platform API endpoints. Paths are relative to Config.API.BaseURL.
const (
	pathSignupStart          = "/signup/start"
	pathSignupMobileOTPSend  = "/signup/otp/mobile/send"
	pathSignupMobileOTPCheck = "/signup/otp/mobile/verify"
	pathSignupEmailOTPSend   = "/signup/otp/email/send"
	pathSignupEmailOTPCheck  = "/signup/otp/email/verify"
	pathSignupPassword       = "/signup/password"
	pathSignupProfileImage   = "/signup/profile-image"
	pathSignupOptional       = "/signup/optional-info"
	pathSignupComplete       = "/signup/complete"

	pathAuthLogin          = "/auth/login"
	pathAuthLoginOTPSend   = "/auth/send-otp"
	pathAuthLoginOTPVerify = "/auth/login/otp"
	pathAuthRefresh        = "/auth/refresh"
	pathAuthLogout         = "/auth/logout"
	pathAuthLogoutAll      = "/auth/logout-all"

	pathResetRequest = "/auth/password/reset/request"
	pathResetVerify  = "/auth/password/reset/verify"
	pathResetConfirm = "/auth/password/reset/confirm"

	pathFieldChangeOTPSend   = "/auth/otp/send"
	pathFieldChangeOTPVerify = "/auth/otp/verify"

	pathUsersMe = "/users/me"
)

// Well-known rejection codes the server attaches to 4xx replies.
const (
	codeOTPInvalid          = "OTP_INVALID"
	codeOTPExpired          = "OTP_EXPIRED"
	codeOTPAttemptsExceeded = "OTP_ATTEMPTS_EXCEEDED"
	codeResetTokenInvalid   = "RESET_TOKEN_INVALID"
	codeResetTokenExpired   = "RESET_TOKEN_EXPIRED"
)

type wireAccount struct {
	ID           string `json:"id"`
	MobileNumber string `json:"mobile_number"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	IsActive     bool   `json:"is_active"`
}

func (w *wireAccount) account() *Account {
	if w == nil {
		return nil
	}
	return &Account{
		ID:           w.ID,
		MobileNumber: w.MobileNumber,
		Email:        w.Email,
		FirstName:    w.FirstName,
		LastName:     w.LastName,
		Active:       w.IsActive,
	}
}

// tokenPairResponse is the shape every credential-issuing endpoint replies
// with: login, login OTP verify, refresh, signup fast-path activation.
type tokenPairResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    int64        `json:"expires_at"`
	User         *wireAccount `json:"user"`
}

type loginRequest struct {
	MobileNumber string `json:"mobile_number"`
	Password     string `json:"password"`
}

type loginResponse struct {
	OTPRequired bool `json:"otp_required"`
	tokenPairResponse
}

type otpSendRequest struct {
	MobileNumber string `json:"mobile_number,omitempty"`
	Email        string `json:"email,omitempty"`
	Purpose      string `json:"purpose,omitempty"`
}

type otpVerifyRequest struct {
	MobileNumber string `json:"mobile_number,omitempty"`
	Email        string `json:"email,omitempty"`
	OTPCode      string `json:"otp_code"`
	Purpose      string `json:"purpose,omitempty"`
	SignupID     string `json:"signup_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type signupStartRequest struct {
	MobileNumber string `json:"mobile_number"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type signupStartResponse struct {
	SignupID string `json:"signup_id"`
}

type signupPasswordRequest struct {
	SignupID string `json:"signup_id"`
	Password string `json:"password"`
}

// signupPasswordResponse activates the account on the fast path: when the
// server decides nothing mandatory remains, it issues tokens immediately.
type signupPasswordResponse struct {
	PasswordSet bool `json:"password_set"`
	tokenPairResponse
}

type signupOptionalRequest struct {
	SignupID               string `json:"signup_id"`
	BloodType              string `json:"blood_type,omitempty"`
	EmergencyContactName   string `json:"emergency_contact_name,omitempty"`
	EmergencyContactMobile string `json:"emergency_contact_mobile,omitempty"`
	Skip                   bool   `json:"skip,omitempty"`
}

type signupCompleteRequest struct {
	SignupID string `json:"signup_id"`
}

type resetVerifyResponse struct {
	PasswordResetToken string `json:"password_reset_token"`
	ExpiresInSeconds   int64  `json:"expires_in_seconds"`
}

type resetConfirmRequest struct {
	PasswordResetToken   string `json:"password_reset_token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}
