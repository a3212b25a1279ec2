package gateway_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/gateway"
)

func TestVetURLBlocksInternalTargets(t *testing.T) {
	ctx := context.Background()

	blocked := []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://127.0.0.1/admin",
		"http://10.0.0.1/",
		"http://[::1]/",
		"http://192.168.1.10/router",
		"http://172.16.0.5/",
		"http://100.64.0.1/",
		"http://[fc00::1]/",
		"http://[fe80::1]/",
		"http://0.0.0.0/",
		"ftp://example.org/file.pdf",
		"file:///etc/passwd",
		"http://example.org/page#fragment",
		"http://",
	}

	for _, url := range blocked {
		t.Run(url, func(t *testing.T) {
			err := gateway.VetURL(ctx, url)
			gt.Value(t, err).NotNil()
			kind := gateway.Kind(err)
			gt.Bool(t, kind == "blocked_url" || kind == "dns_failure").True()
		})
	}
}

func TestVetURLAllowsPublicAddresses(t *testing.T) {
	ctx := context.Background()

	allowed := []string{
		"http://93.184.216.34/",
		"https://93.184.216.34/ktwebscr/pk_tek_tweb.htm?docid=42",
	}

	for _, url := range allowed {
		t.Run(url, func(t *testing.T) {
			gt.NoError(t, gateway.VetURL(ctx, url))
		})
	}
}
