package face

import (
	"testing"

	goface "github.com/Kagami/go-face"
)

func TestFromDescriptor(t *testing.T) {
	var d goface.Descriptor
	d[0] = 0.25
	d[len(d)-1] = -1

	e := FromDescriptor(d)
	if len(e) != len(d) {
		t.Fatalf("Expected %d dimensions, got %d", len(d), len(e))
	}
	if e[0] != 0.25 || e[len(e)-1] != -1 {
		t.Errorf("Values not carried over: got %v ... %v", e[0], e[len(e)-1])
	}
}
