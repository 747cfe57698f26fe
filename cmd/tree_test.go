package cmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6frames/common"
	"github.com/liuxd6825/k6frames/log"
)

const frameTreeJSON = `{"frameTree":{
	"frame":{"id":"main","loaderId":"L1","url":"https://a.test/","securityOrigin":"https://a.test","mimeType":"text/html"},
	"childFrames":[
		{"frame":{"id":"ads","parentId":"main","loaderId":"L2","name":"banner","url":"https://ads.test/","securityOrigin":"https://ads.test","mimeType":"text/html"},
		 "childFrames":[{"frame":{"id":"pixel","parentId":"ads","loaderId":"L3","url":"about:blank","securityOrigin":"","mimeType":"text/html"}}]},
		{"frame":{"id":"video","parentId":"main","loaderId":"L4","url":"https://video.test/","securityOrigin":"https://video.test","mimeType":"text/html"}}
	]}}`

// treeSession answers the frame tree request and ignores everything else.
type treeSession struct {
	mu          sync.Mutex
	subscribers int
}

func (s *treeSession) Execute(_ context.Context, method string, _ easyjson.Marshaler, res easyjson.Unmarshaler) error {
	if method == page.CommandGetFrameTree && res != nil {
		return easyjson.Unmarshal([]byte(frameTreeJSON), res)
	}
	return nil
}

func (s *treeSession) ID() target.SessionID { return "tree" }

func (s *treeSession) Subscribe(func(ev any)) func() {
	s.mu.Lock()
	s.subscribers++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.subscribers--
		s.mu.Unlock()
	}
}

func TestPrintFrameTree(t *testing.T) {
	t.Parallel()

	s := &treeSession{}
	fm := common.NewFrameManager(s, common.WithLogger(log.NewNullLogger()))
	defer fm.Dispose()
	require.NoError(t, fm.Initialize(context.Background()))

	var buf bytes.Buffer
	printFrameTree(&buf, fm.MainFrame())

	want := []string{
		"main https://a.test/",
		"  ads https://ads.test/ " + BannerColor.Sprint("(banner)"),
		"    pixel about:blank",
		"  video https://video.test/",
	}
	assert.Equal(t, strings.Join(want, "\n")+"\n", buf.String())
}

func TestPrintFrameTreeNoFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printFrameTree(&buf, nil)
	assert.Empty(t, buf.String())
}
