package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type PaymentState string

const (
	PaymentUnpaid PaymentState = "unpaid"
	PaymentPaid   PaymentState = "paid"
	PaymentFailed PaymentState = "failed"
)

// CheckoutSessionExpired is the checkout session status that ends payment
// activation without a charge.
const CheckoutSessionExpired = "expired"

type View string

const (
	ViewGenerate     View = "generate"
	ViewGallery      View = "gallery"
	ViewSubscription View = "subscription"
)

// User is the profile snapshot served by /auth/me.
type User struct {
	ID                 string  `json:"id" yaml:"id"`
	Email              string  `json:"email" yaml:"email"`
	Username           string  `json:"username" yaml:"username"`
	Credits            int     `json:"credits" yaml:"credits"`
	SubscriptionPlan   *string `json:"subscription_plan" yaml:"subscription_plan"`
	SubscriptionStatus string  `json:"subscription_status" yaml:"subscription_status"`
	MonthlyCreditsUsed int     `json:"monthly_credits_used" yaml:"monthly_credits_used"`
}

// PlanName returns the subscription plan or "free" when none is active.
func (u User) PlanName() string {
	if u.SubscriptionPlan == nil || *u.SubscriptionPlan == "" {
		return "free"
	}
	return *u.SubscriptionPlan
}

type JobImage struct {
	URL      string `json:"url" yaml:"url"`
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Index    int    `json:"index,omitempty" yaml:"index,omitempty"`
}

// GenerationJob is a server-tracked generation; the gallery returns the
// completed ones.
type GenerationJob struct {
	ID             string     `json:"id" yaml:"id"`
	Prompt         string     `json:"prompt" yaml:"prompt"`
	NegativePrompt string     `json:"negative_prompt,omitempty" yaml:"negative_prompt,omitempty"`
	Width          int        `json:"width" yaml:"width"`
	Height         int        `json:"height" yaml:"height"`
	Status         JobStatus  `json:"status" yaml:"status"`
	ImageURL       string     `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Images         []JobImage `json:"images,omitempty" yaml:"images,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Terminal reports whether no further status transition is expected.
func (j GenerationJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

type SubscriptionPlan struct {
	ID             string          `json:"id,omitempty" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Price          decimal.Decimal `json:"price" yaml:"price"`
	Currency       string          `json:"currency" yaml:"currency"`
	MonthlyCredits int             `json:"monthly_credits" yaml:"monthly_credits"`
}

type Checkout struct {
	URL       string `json:"checkout_url"`
	SessionID string `json:"session_id"`
}

type PaymentStatus struct {
	PaymentStatus PaymentState    `json:"payment_status"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// GenerationParams is the outbound /generate-image payload.
type GenerationParams struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// ReferenceImage is an uploaded image carried inline as base64.
type ReferenceImage struct {
	MimeType string
	Base64   string
}

// GeneratedImage is one image produced by the provider in direct mode.
type GeneratedImage struct {
	MimeType string `json:"mime_type" yaml:"mime_type"`
	Base64   string `json:"-" yaml:"-"`
	DataURL  string `json:"-" yaml:"-"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
}

// GenerationRecord journals a direct-mode generation.
type GenerationRecord struct {
	ID           string    `json:"id" yaml:"id"`
	Prompt       string    `json:"prompt" yaml:"prompt"`
	AspectRatio  string    `json:"aspect_ratio" yaml:"aspect_ratio"`
	Images       int       `json:"images" yaml:"images"`
	CreditsAfter int       `json:"credits_after" yaml:"credits_after"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}
