package agent

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/odong444/cap-api/pkg/capapi"
)

// StubBrowser is a Browser for local runs and tests: it fabricates a
// screenshot from the uid and accepts any non-empty answer.
type StubBrowser struct {
	current string
}

func NewStubBrowser() *StubBrowser { return &StubBrowser{} }

func (b *StubBrowser) Open(_ context.Context, uid string) (string, error) {
	b.current = uid
	return base64.StdEncoding.EncodeToString([]byte("captcha:" + uid)), nil
}

func (b *StubBrowser) Submit(_ context.Context, answer string) (capapi.SellerInfo, bool, error) {
	if answer == "" {
		return capapi.SellerInfo{}, true, nil
	}
	return capapi.SellerInfo{
		StoreName:  "store " + b.current,
		SellerName: fmt.Sprintf("seller of %s", b.current),
	}, false, nil
}
