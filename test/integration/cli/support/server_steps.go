package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/server"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.startTestHTTPServer(server.RateLimitConfig{})
}

func (testCtx *TestContext) theServerIsRunningWithRateLimit(perMinute int) error {
	if err := testCtx.StopServer(); err != nil {
		return err
	}
	return testCtx.startTestHTTPServer(server.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute})
}

func (testCtx *TestContext) baseURL() (string, error) {
	if testCtx.HTTPTestServer == nil {
		return "", errors.New("server is not running")
	}
	return testCtx.HTTPTestServer.Server.URL, nil
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	return nil
}

func (testCtx *TestContext) iSendAGETRequestTo(path string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	resp, err := http.Get(base + path) //nolint:gosec,noctx // G107: test server URL
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) upload(name, path string, fields map[string]string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(base+path, mw.FormDataContentType(), &body) //nolint:gosec,noctx // G107: test server URL
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iUploadTo(name, path string) error {
	return testCtx.upload(name, path, nil)
}

func (testCtx *TestContext) iUploadToWithField(name, path, key, value string) error {
	return testCtx.upload(name, path, map[string]string{key: value})
}

func (testCtx *TestContext) iUploadToWithTheCardCorners(name, path string) error {
	q := geometry.Quad(testutil.CardCorners(testutil.DefaultCardConfig()))
	return testCtx.upload(name, path, map[string]string{"quad": q.String()})
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain %q: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

// theJSONFieldShouldBe compares a dotted path in the last response.
func (testCtx *TestContext) theJSONFieldShouldBe(path, expected string) error {
	var doc any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &doc); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not an object", path, key)
		}
		if cur, ok = m[key]; !ok {
			return fmt.Errorf("%s: field %q missing in %s", path, key, testCtx.LastHTTPResponse)
		}
	}
	if got := fmt.Sprint(cur); got != expected {
		return fmt.Errorf("%s = %s, want %s", path, got, expected)
	}
	return nil
}

// iStreamToALiveScanOf streams name as frames until the scan reports a
// captured image or an error.
func (testCtx *TestContext) iStreamToALiveScanOf(name, document string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	frame, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}

	url := "ws" + strings.TrimPrefix(base, "http") + "/v1/scan/ws?document=" + document
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial live scan: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if conn.WriteMessage(websocket.BinaryMessage, frame) != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var types []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("live scan did not finish, saw %v: %w", types, err)
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		types = append(types, msg.Type)
		if msg.Type == "captured" || msg.Type == "error" {
			testCtx.LastHTTPResponse = string(data)
			testCtx.LastOutput = strings.Join(types, ",")
			return nil
		}
	}
}

func (testCtx *TestContext) theLiveScanShouldReport(typ string) error {
	seen := strings.Split(testCtx.LastOutput, ",")
	if len(seen) == 0 || seen[len(seen)-1] != typ {
		return fmt.Errorf("live scan ended with %v, want %s", seen, typ)
	}
	return nil
}

// RegisterServerSteps registers HTTP and WebSocket step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the idscan server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the idscan server is running with a limit of (\d+) requests? per minute$`, testCtx.theServerIsRunningWithRateLimit)

	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" with "([^"]*)" set to "([^"]*)"$`, testCtx.iUploadToWithField)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" with the card corners$`, testCtx.iUploadToWithTheCardCorners)
	sc.Step(`^I stream "([^"]*)" to a live scan of "([^"]*)"$`, testCtx.iStreamToALiveScanOf)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the live scan should report "([^"]*)"$`, testCtx.theLiveScanShouldReport)
}
