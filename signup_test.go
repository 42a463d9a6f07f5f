package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

// signupServer simulates the onboarding endpoints. fastPath controls whether
// the password step activates the account immediately.
type signupServer struct {
	t        *testing.T
	fastPath bool

	started      bool
	verified     bool
	passwordSet  bool
	imageName    string
	optionalSeen bool
	optionalSkip bool
	completed    bool
}

func (s *signupServer) pair() map[string]any {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return map[string]any{
		"access_token":  signedToken(s.t, "cus_new", exp),
		"refresh_token": "refresh-new",
		"expires_at":    exp.Unix(),
		"user": map[string]any{
			"id":            "cus_new",
			"mobile_number": "+201012345678",
			"first_name":    "Nour",
			"last_name":     "Hassan",
			"is_active":     true,
		},
	}
}

func (s *signupServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case pathSignupStart:
		s.started = true
		writeJSON(s.t, w, http.StatusOK, map[string]any{"signup_id": "sg_1"})
	case pathSignupMobileOTPSend:
		writeJSON(s.t, w, http.StatusOK, map[string]any{"sent": true})
	case pathSignupMobileOTPCheck:
		var req otpVerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(s.t, w, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
			return
		}
		if req.SignupID != "sg_1" {
			writeAPIError(s.t, w, http.StatusUnprocessableEntity, "SIGNUP_UNKNOWN", "unknown signup")
			return
		}
		if req.OTPCode != "123456" {
			writeAPIError(s.t, w, http.StatusUnprocessableEntity, "OTP_INVALID", "wrong code")
			return
		}
		s.verified = true
		writeJSON(s.t, w, http.StatusOK, map[string]any{"verified": true})
	case pathSignupPassword:
		if !s.verified {
			writeAPIError(s.t, w, http.StatusConflict, "STEP_ORDER", "mobile not verified")
			return
		}
		s.passwordSet = true
		if s.fastPath {
			reply := s.pair()
			reply["password_set"] = true
			writeJSON(s.t, w, http.StatusOK, reply)
			return
		}
		writeJSON(s.t, w, http.StatusOK, map[string]any{"password_set": true})
	case pathSignupProfileImage:
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeAPIError(s.t, w, http.StatusBadRequest, "BAD_REQUEST", "unreadable form")
			return
		}
		if got := r.FormValue("signup_id"); got != "sg_1" {
			writeAPIError(s.t, w, http.StatusUnprocessableEntity, "SIGNUP_UNKNOWN", "unknown signup")
			return
		}
		_, header, err := r.FormFile("image")
		if err != nil {
			writeAPIError(s.t, w, http.StatusBadRequest, "BAD_REQUEST", "missing image")
			return
		}
		s.imageName = header.Filename
		writeJSON(s.t, w, http.StatusOK, map[string]any{"uploaded": true})
	case pathSignupOptional:
		var req signupOptionalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(s.t, w, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
			return
		}
		s.optionalSeen = true
		s.optionalSkip = req.Skip
		writeJSON(s.t, w, http.StatusOK, map[string]any{"saved": true})
	case pathSignupComplete:
		if !s.passwordSet {
			writeAPIError(s.t, w, http.StatusConflict, "STEP_ORDER", "password not set")
			return
		}
		s.completed = true
		writeJSON(s.t, w, http.StatusOK, s.pair())
	default:
		s.t.Errorf("unexpected request to %s", r.URL.Path)
	}
}

func startVerifiedSignup(t *testing.T, fastPath bool) (*Client, *SignupWizard, *signupServer) {
	t.Helper()
	srv := &signupServer{t: t, fastPath: fastPath}
	client, _ := newTestClient(t, srv)
	wizard := client.NewSignup()
	ctx := context.Background()

	identity := Identity{
		MobileNumber: "+201012345678",
		Email:        "nour@example.com",
		FirstName:    "Nour",
		LastName:     "Hassan",
	}
	if err := wizard.Start(ctx, identity); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wizard.VerifyMobile(ctx, "123456"); err != nil {
		t.Fatalf("VerifyMobile: %v", err)
	}
	return client, wizard, srv
}

func TestSignupFastPathActivation(t *testing.T) {
	client, wizard, srv := startVerifiedSignup(t, true)

	if err := wizard.SetPassword(context.Background(), "Secur3#Pass", "Secur3#Pass"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if wizard.State() != SignupDone {
		t.Fatalf("state = %v, fast path must finish the wizard", wizard.State())
	}
	if client.Session() != SessionValid {
		t.Fatalf("session = %v", client.Session())
	}
	if srv.completed {
		t.Fatal("fast path must not hit the completion endpoint")
	}

	// Skipped steps stay skipped; the wizard never goes backwards.
	if err := wizard.SkipProfileImage(context.Background()); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("expected ErrStepOrder, got %v", err)
	}
	if got := client.metrics.Get(MetricSignupCompleted); got != 1 {
		t.Fatalf("signup completed counter = %d", got)
	}
}

func TestSignupFullPath(t *testing.T) {
	client, wizard, srv := startVerifiedSignup(t, false)
	ctx := context.Background()

	if err := wizard.SetPassword(ctx, "Secur3#Pass", "Secur3#Pass"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if wizard.State() != SignupProfileImage {
		t.Fatalf("state = %v", wizard.State())
	}

	image := strings.NewReader("fake image bytes")
	if err := wizard.UploadProfileImage(ctx, "avatar.png", image); err != nil {
		t.Fatalf("UploadProfileImage: %v", err)
	}
	if srv.imageName != "avatar.png" {
		t.Fatalf("uploaded filename = %q", srv.imageName)
	}

	if err := wizard.SaveOptionalInfo(ctx, OptionalInfo{
		BloodType:              "O+",
		EmergencyContactName:   "Salma Hassan",
		EmergencyContactMobile: "+201098765432",
	}); err != nil {
		t.Fatalf("SaveOptionalInfo: %v", err)
	}
	if wizard.State() != SignupCompleting {
		t.Fatalf("state = %v", wizard.State())
	}

	account, err := wizard.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if account == nil || account.ID != "cus_new" {
		t.Fatalf("account = %+v", account)
	}
	if wizard.State() != SignupDone {
		t.Fatalf("state = %v", wizard.State())
	}
	if client.Session() != SessionValid {
		t.Fatalf("session = %v", client.Session())
	}
	if !srv.completed || !srv.optionalSeen || srv.optionalSkip {
		t.Fatalf("server saw: %+v", srv)
	}
}

func TestSignupSkipPaths(t *testing.T) {
	_, wizard, srv := startVerifiedSignup(t, false)
	ctx := context.Background()

	if err := wizard.SetPassword(ctx, "Secur3#Pass", "Secur3#Pass"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := wizard.SkipProfileImage(ctx); err != nil {
		t.Fatalf("SkipProfileImage: %v", err)
	}
	if err := wizard.SkipOptionalInfo(ctx); err != nil {
		t.Fatalf("SkipOptionalInfo: %v", err)
	}
	if !srv.optionalSkip {
		t.Fatal("skip must be declared to the server")
	}
	if _, err := wizard.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestSignupStepOrder(t *testing.T) {
	srv := &signupServer{t: t}
	client, _ := newTestClient(t, srv)
	wizard := client.NewSignup()
	ctx := context.Background()

	if err := wizard.SetPassword(ctx, "Secur3#Pass", "Secur3#Pass"); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("SetPassword before Start: expected ErrStepOrder, got %v", err)
	}
	if err := wizard.VerifyMobile(ctx, "123456"); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("VerifyMobile before Start: expected ErrStepOrder, got %v", err)
	}
	if _, err := wizard.Complete(ctx); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("Complete before Start: expected ErrStepOrder, got %v", err)
	}

	if err := wizard.Start(ctx, Identity{MobileNumber: "+201012345678"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wizard.Start(ctx, Identity{MobileNumber: "+201012345678"}); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("second Start: expected ErrStepOrder, got %v", err)
	}
}

func TestSignupPasswordLocalChecks(t *testing.T) {
	_, wizard, srv := startVerifiedSignup(t, false)
	ctx := context.Background()

	if err := wizard.SetPassword(ctx, "Secur3#Pass", "different"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	for _, weak := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoDigitsHere"} {
		if err := wizard.SetPassword(ctx, weak, weak); !errors.Is(err, ErrPasswordPolicy) {
			t.Fatalf("SetPassword(%q): expected ErrPasswordPolicy, got %v", weak, err)
		}
	}
	if srv.passwordSet {
		t.Fatal("rejected passwords must not reach the server")
	}
	if wizard.State() != SignupPassword {
		t.Fatalf("state = %v", wizard.State())
	}
}

func TestSignupRequiresMobileNumber(t *testing.T) {
	client, _ := newTestClient(t, &signupServer{t: t})
	wizard := client.NewSignup()
	if err := wizard.Start(context.Background(), Identity{FirstName: "Nour"}); err == nil {
		t.Fatal("expected rejection without a mobile number")
	}
}
