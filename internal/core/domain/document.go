package domain

import (
	"net/http"
	"time"
)

// ScanStatus is the derived lifecycle state of a document's blob. It is never
// stored: it is resolved from which storage area currently holds the blob.
type ScanStatus string

const (
	ScanStatusReady        ScanStatus = "READY"
	ScanStatusAwaitingScan ScanStatus = "AWAITING_SCAN"
	ScanStatusFailedScan   ScanStatus = "FAILED_SCAN"
)

// HTTPStatus maps a scan status onto its client-facing HTTP code.
func (s ScanStatus) HTTPStatus() int {
	switch s {
	case ScanStatusReady:
		return http.StatusOK
	case ScanStatusAwaitingScan:
		return http.StatusAccepted
	case ScanStatusFailedScan:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (s ScanStatus) Message() string {
	switch s {
	case ScanStatusReady:
		return "Document is available for download"
	case ScanStatusAwaitingScan:
		return "Document awaiting scan not yet available. Try again later."
	case ScanStatusFailedScan:
		return "Document has been permanently quarantined and cannot be retrieved."
	default:
		return "Unknown scan status"
	}
}

// StorageArea is one of the three logical blob-store partitions a document
// moves through. Exactly one area holds a given document id at a time.
type StorageArea string

const (
	AreaUnscanned  StorageArea = "unscanned"
	AreaQuarantine StorageArea = "quarantine"
	AreaScanned    StorageArea = "scanned"
)

// Document is created on upload and immutable afterwards.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DocumentMetadata is carried on the blob itself, next to the bytes.
type DocumentMetadata struct {
	OriginalFilename string `json:"originalFilename"`
	UploadedBy       string `json:"uploadedBy"`
}

// Blob metadata keys.
const (
	MetaOriginalFilename = "original-filename"
	MetaUploadedBy       = "uploaded-by"
)

// FileContent is a blob's bytes plus its content type.
type FileContent struct {
	Data        []byte
	ContentType string
}

// ObjectEvent announces a newly created object in a storage bucket.
type ObjectEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ScanVerdict is the outcome of an antivirus scan that actually ran.
type ScanVerdict struct {
	Clean   bool
	Message string
}

// ScanReport is the client-facing rendering of a scan status. It doubles as
// the payload of the synthesized antivirus pseudo-result.
type ScanReport struct {
	ScanStatus ScanStatus `json:"scanStatus"`
	HTTPStatus int        `json:"httpStatus"`
	Message    string     `json:"message"`
}

func NewScanReport(s ScanStatus) ScanReport {
	return ScanReport{ScanStatus: s, HTTPStatus: s.HTTPStatus(), Message: s.Message()}
}
