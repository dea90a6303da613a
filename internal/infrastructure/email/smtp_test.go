package email

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
)

// fakeServer speaks just enough SMTP for a plain text delivery and returns
// the commands and the DATA section it received.
func fakeServer(t *testing.T) (host string, port int, got <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { conn.Write([]byte(s + "\r\n")) }

		var lines []string
		write("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				out <- lines
				return
			}
			line = strings.TrimRight(line, "\r\n")
			lines = append(lines, line)
			switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
			case "EHLO", "HELO":
				write("250-localhost")
				write("250 8BITMIME")
			case "MAIL", "RCPT":
				write("250 OK")
			case "DATA":
				write("354 go ahead")
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						out <- lines
						return
					}
					l = strings.TrimRight(l, "\r\n")
					if l == "." {
						break
					}
					lines = append(lines, l)
				}
				write("250 queued")
			case "QUIT":
				write("221 bye")
				out <- lines
				return
			default:
				write("502 unsupported")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, out
}

func TestSender_Send(t *testing.T) {
	host, port, got := fakeServer(t)
	s := NewSender(WithTimeout(5 * time.Second))

	err := s.Send(context.Background(), notification.SMTPConfig{Host: host, Port: port}, notification.Message{
		FromName:    "Shop",
		FromAddress: "shop@example.com",
		To:          "jane@example.com",
		Subject:     "Reset your password",
		Body:        "line one\nline two",
	})
	require.NoError(t, err)

	var lines []string
	select {
	case lines = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "MAIL FROM:<shop@example.com>")
	assert.Contains(t, joined, "RCPT TO:<jane@example.com>")
	assert.Contains(t, joined, `From: "Shop" <shop@example.com>`)
	assert.Contains(t, joined, "Subject: Reset your password")
	assert.Contains(t, joined, "line one\nline two")
}

func TestSender_Errors(t *testing.T) {
	s := NewSender()
	err := s.Send(context.Background(), notification.SMTPConfig{}, notification.Message{})
	assert.ErrorContains(t, err, "host is not configured")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	err = s.Send(context.Background(), notification.SMTPConfig{Host: "127.0.0.1", Port: port}, notification.Message{})
	assert.ErrorContains(t, err, "dial 127.0.0.1:"+strconv.Itoa(port))
}

func TestCompose(t *testing.T) {
	s := NewSender()
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	raw := string(s.compose(notification.Message{
		FromAddress: "shop@example.com",
		To:          "jane@example.com",
		Subject:     "Zamówienie",
		Body:        "a\nb",
	}))
	assert.Contains(t, raw, "Subject: =?utf-8?q?Zam=C3=B3wienie?=\r\n")
	assert.Contains(t, raw, "Date: Tue, 02 Jan 2024 03:04:05 +0000\r\n")
	assert.Contains(t, raw, "@example.com>\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\na\r\nb"))
}
