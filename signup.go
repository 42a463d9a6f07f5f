package authkit

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// SignupState is the position of a SignupWizard. States only advance; a
// completed step is never revisited by the same wizard instance.
type SignupState int32

const (
	// SignupStart accepts the identity submission.
	SignupStart SignupState = iota
	// SignupMobileOTP waits for the code delivered to the mobile number.
	SignupMobileOTP
	// SignupPassword waits for the account password.
	SignupPassword
	// SignupProfileImage waits for an optional profile image.
	SignupProfileImage
	// SignupOptionalInfo waits for optional profile fields.
	SignupOptionalInfo
	// SignupCompleting has collected everything and awaits the final
	// activation exchange.
	SignupCompleting
	// SignupDone means the account is active and a session is held.
	SignupDone
)

// String returns the lowercase state name.
func (s SignupState) String() string {
	switch s {
	case SignupMobileOTP:
		return "mobile_otp"
	case SignupPassword:
		return "password"
	case SignupProfileImage:
		return "profile_image"
	case SignupOptionalInfo:
		return "optional_info"
	case SignupCompleting:
		return "completing"
	case SignupDone:
		return "done"
	default:
		return "start"
	}
}

// SignupWizard drives account creation step by step. The server assigns a
// signup handle at Start; every later step quotes it, so an interrupted
// wizard can be rebuilt from the handle without repeating verified steps.
//
// Password submission may activate the account immediately when the server
// decides nothing mandatory remains; the wizard then jumps straight to
// SignupDone with a live session and the image and optional-info steps are
// skipped.
type SignupWizard struct {
	client *Client

	mu       sync.Mutex
	state    SignupState
	inflight bool
	signupID string
	identity Identity

	mobileChallenge *OTPChallenge
	emailChallenge  *OTPChallenge
	emailVerified   bool
}

// State reports the wizard position.
func (w *SignupWizard) State() SignupState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SignupID returns the server-assigned handle, empty before Start succeeds.
func (w *SignupWizard) SignupID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signupID
}

// Start registers the identity and triggers code delivery to the mobile
// number. On success the wizard waits in SignupMobileOTP.
func (w *SignupWizard) Start(ctx context.Context, identity Identity) error {
	if strings.TrimSpace(identity.MobileNumber) == "" {
		return errors.New("mobile number is required")
	}
	if err := w.begin(SignupStart); err != nil {
		return err
	}
	defer w.end()

	var resp signupStartResponse
	err := w.client.exec.PostJSON(ctx, pathSignupStart, signupStartRequest{
		MobileNumber: identity.MobileNumber,
		Email:        identity.Email,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.SignupID == "" {
		return errors.New("signup reply missing signup id")
	}

	challenge := w.client.newChallenge(PurposeSignup, MobileDestination(identity.MobileNumber),
		pathSignupMobileOTPSend, pathSignupMobileOTPCheck,
		map[string]string{"signup_id": resp.SignupID})
	if err := challenge.Request(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.signupID = resp.SignupID
	w.identity = identity
	w.mobileChallenge = challenge
	w.state = SignupMobileOTP
	w.mu.Unlock()

	w.client.metrics.Inc(MetricSignupStarted)
	w.client.events.emit(ctx, Event{Type: EventSignupStarted, Timestamp: w.client.now()})
	return nil
}

// VerifyMobile submits the delivered code. A wrong code keeps the wizard in
// SignupMobileOTP; success advances to SignupPassword.
func (w *SignupWizard) VerifyMobile(ctx context.Context, code string) error {
	w.mu.Lock()
	if w.state != SignupMobileOTP {
		w.mu.Unlock()
		return ErrStepOrder
	}
	challenge := w.mobileChallenge
	w.mu.Unlock()

	if _, err := challenge.Verify(ctx, code); err != nil {
		return err
	}

	w.mu.Lock()
	w.state = SignupPassword
	w.mu.Unlock()
	return nil
}

// ResendMobileOTP invalidates the delivered code and requests a fresh one.
func (w *SignupWizard) ResendMobileOTP(ctx context.Context) error {
	w.mu.Lock()
	if w.state != SignupMobileOTP {
		w.mu.Unlock()
		return ErrStepOrder
	}
	challenge := w.mobileChallenge
	w.mu.Unlock()
	return challenge.Resend(ctx)
}

// SendEmailOTP starts optional email verification. Available once the
// mobile number is verified; does not move the wizard state.
func (w *SignupWizard) SendEmailOTP(ctx context.Context) error {
	w.mu.Lock()
	if w.state < SignupPassword || w.state == SignupDone {
		w.mu.Unlock()
		return ErrStepOrder
	}
	if w.identity.Email == "" {
		w.mu.Unlock()
		return errors.New("no email on the signup identity")
	}
	if w.emailChallenge == nil || w.emailChallenge.Closed() {
		w.emailChallenge = w.client.newChallenge(PurposeSignup, EmailDestination(w.identity.Email),
			pathSignupEmailOTPSend, pathSignupEmailOTPCheck,
			map[string]string{"signup_id": w.signupID})
	}
	challenge := w.emailChallenge
	w.mu.Unlock()
	return challenge.Request(ctx)
}

// VerifyEmail submits the emailed code.
func (w *SignupWizard) VerifyEmail(ctx context.Context, code string) error {
	w.mu.Lock()
	challenge := w.emailChallenge
	w.mu.Unlock()
	if challenge == nil {
		return ErrStepOrder
	}
	if _, err := challenge.Verify(ctx, code); err != nil {
		return err
	}
	w.mu.Lock()
	w.emailVerified = true
	w.mu.Unlock()
	return nil
}

// EmailVerified reports whether the optional email step succeeded.
func (w *SignupWizard) EmailVerified() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emailVerified
}

// SetPassword submits the account password. The confirmation must match and
// the candidate must satisfy the local policy before anything is sent.
//
// When the server activates the account in its reply the wizard jumps to
// SignupDone with a live session; otherwise it advances to
// SignupProfileImage.
func (w *SignupWizard) SetPassword(ctx context.Context, password, confirmation string) error {
	if password != confirmation {
		return ErrPasswordMismatch
	}
	if err := w.client.config.Password.check(password); err != nil {
		return err
	}
	if err := w.begin(SignupPassword); err != nil {
		return err
	}
	defer w.end()

	var resp signupPasswordResponse
	err := w.client.exec.PostJSON(ctx, pathSignupPassword, signupPasswordRequest{
		SignupID: w.SignupID(),
		Password: password,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.AccessToken != "" {
		if err := w.client.lifecycle.activateFromPair(ctx, &resp.tokenPairResponse); err != nil {
			return err
		}
		w.complete(ctx)
		return nil
	}

	w.mu.Lock()
	w.state = SignupProfileImage
	w.mu.Unlock()
	return nil
}

// UploadProfileImage attaches an image to the pending account and advances
// to SignupOptionalInfo.
func (w *SignupWizard) UploadProfileImage(ctx context.Context, filename string, image io.Reader) error {
	if err := w.begin(SignupProfileImage); err != nil {
		return err
	}
	defer w.end()

	fields := map[string]string{"signup_id": w.SignupID()}
	if err := w.client.exec.PostMultipart(ctx, pathSignupProfileImage, fields, "image", filename, image, nil); err != nil {
		return err
	}

	w.mu.Lock()
	w.state = SignupOptionalInfo
	w.mu.Unlock()
	return nil
}

// SkipProfileImage advances past the image step without uploading.
func (w *SignupWizard) SkipProfileImage(ctx context.Context) error {
	if err := w.begin(SignupProfileImage); err != nil {
		return err
	}
	defer w.end()

	w.mu.Lock()
	w.state = SignupOptionalInfo
	w.mu.Unlock()
	return nil
}

// SaveOptionalInfo records the optional profile fields and advances to
// SignupCompleting.
func (w *SignupWizard) SaveOptionalInfo(ctx context.Context, info OptionalInfo) error {
	if err := w.begin(SignupOptionalInfo); err != nil {
		return err
	}
	defer w.end()

	err := w.client.exec.PostJSON(ctx, pathSignupOptional, signupOptionalRequest{
		SignupID:               w.SignupID(),
		BloodType:              info.BloodType,
		EmergencyContactName:   info.EmergencyContactName,
		EmergencyContactMobile: info.EmergencyContactMobile,
	}, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.state = SignupCompleting
	w.mu.Unlock()
	return nil
}

// SkipOptionalInfo advances past the optional fields without recording any.
func (w *SignupWizard) SkipOptionalInfo(ctx context.Context) error {
	if err := w.begin(SignupOptionalInfo); err != nil {
		return err
	}
	defer w.end()

	err := w.client.exec.PostJSON(ctx, pathSignupOptional, signupOptionalRequest{
		SignupID: w.SignupID(),
		Skip:     true,
	}, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.state = SignupCompleting
	w.mu.Unlock()
	return nil
}

// Complete activates the account and installs the issued session.
func (w *SignupWizard) Complete(ctx context.Context) (*Account, error) {
	if err := w.begin(SignupCompleting); err != nil {
		return nil, err
	}
	defer w.end()

	var resp tokenPairResponse
	err := w.client.exec.PostJSON(ctx, pathSignupComplete, signupCompleteRequest{
		SignupID: w.SignupID(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := w.client.lifecycle.activateFromPair(ctx, &resp); err != nil {
		return nil, err
	}

	w.complete(ctx)
	return resp.User.account(), nil
}

func (w *SignupWizard) complete(ctx context.Context) {
	w.mu.Lock()
	w.state = SignupDone
	w.mu.Unlock()
	w.client.metrics.Inc(MetricSignupCompleted)
	w.client.events.emit(ctx, Event{Type: EventSignupCompleted, Timestamp: w.client.now()})
}

func (w *SignupWizard) begin(want SignupState) error {
	if err := w.client.ready(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != want {
		return ErrStepOrder
	}
	if w.inflight {
		return ErrFlowBusy
	}
	w.inflight = true
	return nil
}

func (w *SignupWizard) end() {
	w.mu.Lock()
	w.inflight = false
	w.mu.Unlock()
}
