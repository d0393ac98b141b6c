package notifications

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db/models"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

// Directory resolves the address a user's digests are delivered to.
type Directory interface {
	EmailForUser(ctx context.Context, userID uuid.UUID) (string, error)
}

type userDirectory struct {
	db *gorm.DB
}

// NewUserDirectory reads recipient addresses from the users table.
func NewUserDirectory(db *gorm.DB) Directory {
	return &userDirectory{db: db}
}

// EmailForUser returns "" with no error when the user does not exist.
func (d *userDirectory) EmailForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	var user models.User
	err := d.db.WithContext(ctx).Select("id", "email").Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender mails insight digests through an SMTP relay.
type SMTPSender struct {
	cfg       config.SMTPConfig
	directory Directory
	logg      *logger.Logger
	send      sendMailFunc
}

// NewSMTPSender builds a sender for the configured relay.
func NewSMTPSender(cfg config.SMTPConfig, directory Directory, logg *logger.Logger) (*SMTPSender, error) {
	if !cfg.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "smtp host required")
	}
	if directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user directory required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &SMTPSender{cfg: cfg, directory: directory, logg: logg, send: smtp.SendMail}, nil
}

func (s *SMTPSender) SendSummary(ctx context.Context, userID uuid.UUID, insights []models.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	to, err := s.directory.EmailForUser(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup recipient")
	}
	ctx = s.logg.WithUserID(ctx, userID.String())
	if strings.TrimSpace(to) == "" {
		s.logg.Warn(ctx, "no recipient address for insight summary")
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(addr, auth, s.cfg.From, []string{to}, buildMessage(s.cfg.From, to, insights)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send insight summary email")
	}
	s.logg.Info(s.logg.WithField(ctx, "insights", len(insights)), "insight summary emailed")
	return nil
}

func buildMessage(from, to string, insights []models.Insight) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", SummarySubject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(RenderSummary(insights), "\n", "\r\n"))
	return []byte(b.String())
}
