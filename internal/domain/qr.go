package domain

import "time"

// QRSnapshot is the read-only public view of a product behind a QR code.
// It never carries internal identifiers.
type QRSnapshot struct {
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	SKU        string             `json:"sku"`
	EAN        string             `json:"ean,omitempty"`
	Category   string             `json:"category"`
	Claims     []string           `json:"claims"`
	Status     ProductStatus      `json:"status"`
	Validation *ValidationSummary `json:"validation,omitempty"`
}

// ValidationSummary is the public part of the latest terminal validation.
type ValidationSummary struct {
	Status          ValidationStatus       `json:"status"`
	ClaimsValidated map[string]ClaimResult `json:"claimsValidated,omitempty"`
	Remarks         []string               `json:"remarks,omitempty"`
	ValidatedAt     *time.Time             `json:"validatedAt,omitempty"`
}

// QRAccess is one public lookup of a QR code. Records are insert-only.
type QRAccess struct {
	ID         int64     `json:"id"`
	QRCode     string    `json:"qrCode"`
	AccessedAt time.Time `json:"accessedAt"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	Location   string    `json:"location,omitempty"`
}

// QRAccessStats aggregates the access log of one code.
type QRAccessStats struct {
	QRCode string     `json:"qrCode"`
	Total  int64      `json:"total"`
	Recent []QRAccess `json:"recent"`
}
