// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownAction  = errors.New("unknown setup action")
	ErrInvalidRequest = errors.New("invalid setup request")
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrInvalidRequest) match.
func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Request is one of the setup actions. The set of variants is closed.
type Request interface {
	Action() string
	setupRequest()
}

// Credentials carry the optional system-lock PIN.
type Credentials struct {
	PIN string `json:"pin"`
}

// StatusRequest reports whether setup is still possible.
type StatusRequest struct {
	Credentials
}

// VerifyPINRequest checks the system-lock PIN.
type VerifyPINRequest struct {
	Credentials
}

// RequestOTPRequest sends a verification code to Email.
type RequestOTPRequest struct {
	Credentials
	Email string `json:"email"`
}

// VerifyTokenRequest verifies the code sent to Email.
type VerifyTokenRequest struct {
	Credentials
	Email string `json:"email"`
	Token string `json:"token"`
}

// CreateAdminRequest creates an admin account for a verified Email.
type CreateAdminRequest struct {
	Credentials
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// DebugAdminRequest lists the existing admin accounts.
type DebugAdminRequest struct {
	Credentials
}

// TestDBRequest checks database connectivity.
type TestDBRequest struct {
	Credentials
}

// ResetRequest discards the code and request counter for Email.
type ResetRequest struct {
	Credentials
	Email string `json:"email"`
}

func (StatusRequest) Action() string      { return "initialize" }
func (VerifyPINRequest) Action() string   { return "verify-pin" }
func (RequestOTPRequest) Action() string  { return "request-otp" }
func (VerifyTokenRequest) Action() string { return "verify-token" }
func (CreateAdminRequest) Action() string { return "create-admin" }
func (DebugAdminRequest) Action() string  { return "debug-admin" }
func (TestDBRequest) Action() string      { return "test-db" }
func (ResetRequest) Action() string       { return "reset" }

func (StatusRequest) setupRequest()      {}
func (VerifyPINRequest) setupRequest()   {}
func (RequestOTPRequest) setupRequest()  {}
func (VerifyTokenRequest) setupRequest() {}
func (CreateAdminRequest) setupRequest() {}
func (DebugAdminRequest) setupRequest()  {}
func (TestDBRequest) setupRequest()      {}
func (ResetRequest) setupRequest()       {}

// ParseRequest decodes a JSON body of the form {"action": "...", ...} into
// its variant and checks required fields.
func ParseRequest(body []byte) (Request, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FieldError{Field: "body", Message: "request body must be a JSON object"}
	}

	var req Request
	switch strings.TrimSpace(envelope.Action) {
	case "initialize":
		req = &StatusRequest{}
	case "verify-pin":
		req = &VerifyPINRequest{}
	case "request-otp":
		req = &RequestOTPRequest{}
	case "verify-token":
		req = &VerifyTokenRequest{}
	case "create-admin":
		req = &CreateAdminRequest{}
	case "debug-admin":
		req = &DebugAdminRequest{}
	case "test-db":
		req = &TestDBRequest{}
	case "reset":
		req = &ResetRequest{}
	case "":
		return nil, &FieldError{Field: "action", Message: "action is required"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Action)
	}

	if err := json.Unmarshal(body, req); err != nil {
		return nil, &FieldError{Field: "body", Message: "malformed request body"}
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	return deref(req), nil
}

func validate(req Request) error {
	switch r := req.(type) {
	case *VerifyPINRequest:
		if r.PIN == "" {
			return &FieldError{Field: "pin", Message: "PIN is required"}
		}
	case *RequestOTPRequest:
		return required("email", r.Email)
	case *VerifyTokenRequest:
		if err := required("email", r.Email); err != nil {
			return err
		}
		return required("token", r.Token)
	case *CreateAdminRequest:
		if err := required("email", r.Email); err != nil {
			return err
		}
		return required("password", r.Password)
	case *ResetRequest:
		return required("email", r.Email)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Message: field + " is required"}
	}
	return nil
}

// deref hands out value variants so that Handle can switch on plain types.
func deref(req Request) Request {
	switch r := req.(type) {
	case *StatusRequest:
		return *r
	case *VerifyPINRequest:
		return *r
	case *RequestOTPRequest:
		return *r
	case *VerifyTokenRequest:
		return *r
	case *CreateAdminRequest:
		return *r
	case *DebugAdminRequest:
		return *r
	case *TestDBRequest:
		return *r
	case *ResetRequest:
		return *r
	}
	return req
}
