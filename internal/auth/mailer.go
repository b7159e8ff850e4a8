package auth

import (
	"context"
	"log/slog"
)

// Mailer はパスワード再設定リンクをユーザーに届ける。
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer はメール送信の代わりにリンクをログに出力するMailer。
// 端末単体で動かす開発環境向け。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。loggerがnilならslog.Defaultを使う。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset は再設定リンクをInfoログに出力する。
func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	m.logger.InfoContext(ctx, "password reset requested",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}
