package proxy

import (
	"io"
	"net/http"
)

// responseSender adapts http.ResponseWriter to stats.ResponseSender.
// net/http owns the reason phrase of the status line, so the reason passed
// to SendHeaders and SendMessage is accepted and dropped.
type responseSender struct {
	w http.ResponseWriter
}

func (s *responseSender) SendHeaders(status int, _ string) error {
	s.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.w.WriteHeader(status)
	return nil
}

func (s *responseSender) SendBody(body io.Reader) error {
	_, err := io.Copy(s.w, body)
	return err
}

func (s *responseSender) SendMessage(status int, reason, body string) error {
	if err := s.SendHeaders(status, reason); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, body)
	return err
}
