// Package userinput pauses a running task to collect credentials,
// captcha text or other values from the user. Requests go out as events;
// responses come back through a JSON file the host writes into the data
// directory.
package userinput

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	responseFile = "user_input_response.json"

	defaultTimeout    = 5 * time.Minute
	pollInterval      = 500 * time.Millisecond
	heartbeatInterval = 5 * time.Second
)

// Field describes one input the host should render.
type Field struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
}

// Request is one dialog shown to the user.
type Request struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Message      string  `json:"message,omitempty"`
	Fields       []Field `json:"fields"`
	CaptchaImage string  `json:"captchaImage,omitempty"`
}

// response is what the host writes into the response file.
type response struct {
	RequestID string            `json:"request_id"`
	Cancelled bool              `json:"cancelled"`
	Values    map[string]string `json:"values"`
}

// Manager sends input requests and waits for the file-based answers.
type Manager struct {
	dataDir string
	emitter events.Emitter
	log     logger.Logger

	// Tunable for tests.
	timeout time.Duration
	poll    time.Duration
}

// NewManager creates a manager over the agent data directory.
func NewManager(dataDir string, emitter events.Emitter, log logger.Logger) *Manager {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Manager{
		dataDir: dataDir,
		emitter: emitter,
		log:     log,
		timeout: defaultTimeout,
		poll:    pollInterval,
	}
}

// RequestLogin asks for username and password. Returns nil values when
// the user cancelled or the request timed out.
func (m *Manager) RequestLogin(ec *types.ExecutionContext, siteName string, message string) (map[string]string, error) {
	if siteName == "" {
		siteName = "网站"
	}
	if message == "" {
		message = fmt.Sprintf("请输入您在 %s 的登录信息", siteName)
	}
	req := Request{
		ID:      uuid.NewString(),
		Type:    "login",
		Title:   fmt.Sprintf("登录 %s", siteName),
		Message: message,
		Fields: []Field{
			{Name: "username", Label: "用户名", Type: "text", Placeholder: "请输入用户名", Required: true},
			{Name: "password", Label: "密码", Type: "password", Placeholder: "请输入密码", Required: true},
		},
	}
	return m.sendAndWait(ec, req)
}

// RequestCaptcha shows a captcha image and asks for its text.
func (m *Manager) RequestCaptcha(ec *types.ExecutionContext, captchaImage string, siteName string, message string) (string, error) {
	if siteName == "" {
		siteName = "网站"
	}
	if message == "" {
		message = "请输入图片中的验证码"
	}
	req := Request{
		ID:           uuid.NewString(),
		Type:         "captcha",
		Title:        fmt.Sprintf("输入验证码 - %s", siteName),
		Message:      message,
		CaptchaImage: captchaImage,
		Fields: []Field{
			{Name: "captcha", Label: "验证码", Type: "text", Placeholder: "请输入验证码", Required: true},
		},
	}
	values, err := m.sendAndWait(ec, req)
	if err != nil || values == nil {
		return "", err
	}
	return values["captcha"], nil
}

// RequestQRLogin shows a QR code and waits for the user to confirm the
// scan. Any non-cancelled response counts as success.
func (m *Manager) RequestQRLogin(ec *types.ExecutionContext, qrImage string, siteName string, message string) (bool, error) {
	if siteName == "" {
		siteName = "网站"
	}
	if message == "" {
		message = "请使用手机扫描二维码登录"
	}
	req := Request{
		ID:           uuid.NewString(),
		Type:         "qr_login",
		Title:        fmt.Sprintf("扫码登录 - %s", siteName),
		Message:      message,
		CaptchaImage: qrImage,
		Fields:       []Field{},
	}
	values, err := m.sendAndWait(ec, req)
	if err != nil {
		return false, err
	}
	return values != nil, nil
}

// RequestEmailConfig collects SMTP settings for the email executor.
func (m *Manager) RequestEmailConfig(ec *types.ExecutionContext, defaultSMTP string, defaultPort int, message string) (map[string]string, error) {
	if defaultSMTP == "" {
		defaultSMTP = "smtp.gmail.com"
	}
	if defaultPort == 0 {
		defaultPort = 587
	}
	if message == "" {
		message = "请填写您的邮件服务配置，以便 DeskJarvis 可以为您发送邮件。建议使用“应用专用密码”。"
	}
	req := Request{
		ID:      uuid.NewString(),
		Type:    "email_config",
		Title:   "配置邮件服务",
		Message: message,
		Fields: []Field{
			{Name: "sender_email", Label: "发件人邮箱", Type: "text", Placeholder: "例如: yourname@gmail.com", Required: true},
			{Name: "password", Label: "密码 / 应用专用密码", Type: "password", Placeholder: "请输入密码或 App Password", Required: true},
			{Name: "smtp_server", Label: "SMTP 服务器", Type: "text", Value: defaultSMTP, Placeholder: "例如: smtp.gmail.com", Required: true},
			{Name: "smtp_port", Label: "SMTP 端口", Type: "number", Value: fmt.Sprintf("%d", defaultPort), Placeholder: "例如: 587 或 465", Required: true},
		},
	}
	return m.sendAndWait(ec, req)
}

// RequestCustom shows an arbitrary dialog.
func (m *Manager) RequestCustom(ec *types.ExecutionContext, title string, fields []Field, message string) (map[string]string, error) {
	req := Request{
		ID:      uuid.NewString(),
		Type:    "custom",
		Title:   title,
		Message: message,
		Fields:  fields,
	}
	return m.sendAndWait(ec, req)
}

// sendAndWait emits the request and polls the response file until the
// answer arrives, the timeout lapses (nil values) or the task is
// interrupted (ErrTaskInterrupted).
func (m *Manager) sendAndWait(ec *types.ExecutionContext, req Request) (map[string]string, error) {
	path := filepath.Join(m.dataDir, responseFile)
	_ = os.Remove(path)

	payload := requestPayload(req)
	m.emitter.Emit(events.New(events.UserInputRequest, "", map[string]interface{}{
		"type": "user_input_request",
		"data": payload,
	}))
	// Legacy listeners watch request_input with the flat payload.
	m.emitter.Emit(events.New(events.RequestInput, "", payload))
	m.log.Infof("User input request %s sent, type %s", req.ID, req.Type)

	start := time.Now()
	lastHeartbeat := start
	for time.Since(start) < m.timeout {
		if ec != nil && ec.Interrupted() {
			m.log.Infof("Task stopped, abandoning user input request %s", req.ID)
			return nil, types.ErrTaskInterrupted
		}

		if now := time.Now(); now.Sub(lastHeartbeat) >= heartbeatInterval {
			elapsed := int(now.Sub(start).Seconds())
			m.emitter.Emit(events.New(events.WaitingForInput, "", map[string]interface{}{
				"request_id": req.ID,
				"elapsed":    elapsed,
				"remaining":  int(m.timeout.Seconds()) - elapsed,
			}))
			lastHeartbeat = now
		}

		if values, done := m.readResponse(path, req.ID); done {
			return values, nil
		}

		time.Sleep(m.poll)
	}

	m.log.Warnf("User input request %s timed out after %s", req.ID, m.timeout)
	return nil, nil
}

// readResponse consumes the response file when it answers this request.
// Responses for other requests are left in place.
func (m *Manager) readResponse(path string, requestID string) (map[string]string, bool) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		m.log.Warnf("Unreadable user input response: %v", err)
		return nil, false
	}
	if resp.RequestID != requestID {
		return nil, false
	}

	_ = os.Remove(path)
	if resp.Cancelled {
		m.log.Infof("User cancelled input request %s", requestID)
		return nil, true
	}
	return resp.Values, true
}

func requestPayload(req Request) map[string]interface{} {
	payload, err := json.Marshal(req)
	if err != nil {
		return map[string]interface{}{"id": req.ID, "type": req.Type, "title": req.Title}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]interface{}{"id": req.ID, "type": req.Type, "title": req.Title}
	}
	return out
}
