package antivirus

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

// eicarMarker appears in the standard antivirus test file. Matching the
// marker alone keeps this fake from tripping real scanners on its own source.
var eicarMarker = []byte("EICAR-STANDARD-ANTIVIRUS-TEST-FILE")

// Fake is a scanner for local development and tests. Everything is clean
// except content carrying the EICAR test marker.
type Fake struct{}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Scan(_ context.Context, data []byte, label string) (domain.ScanVerdict, error) {
	if bytes.Contains(data, eicarMarker) {
		return domain.ScanVerdict{
			Clean:   false,
			Message: fmt.Sprintf("malware detected in %s: Eicar-Test-Signature", label),
		}, nil
	}
	return domain.ScanVerdict{Clean: true}, nil
}
