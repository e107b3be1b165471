package email

import (
	"fmt"
	"os"
	"strings"

	"questtable-backend/internal/models"

	"github.com/labstack/echo/v4"
	resend "github.com/resend/resend-go/v2"
)

// EmailClient is an interface for sending emails. All sends are
// fire-and-forget: failures are logged and never block the operation that
// triggered them.
type EmailClient interface {
	SendAsync(toEmail, subject, htmlBody string)
	SendWelcomeEmail(user *models.User)
	SendPasswordResetEmail(toEmail, resetLink string)
	SendJoinRequestEmail(host *models.User, playerName string, session *models.Session)
	SendSeatApprovedEmail(player *models.User, hostName string, session *models.Session)
	SendSubscriptionConfirmationEmail(user *models.User)
	SendSubscriptionCancellationEmail(user *models.User)
}

// ResendEmailClient implements EmailClient using the Resend service
type ResendEmailClient struct {
	client        *resend.Client
	defaultSender string
	logger        echo.Logger
}

// NewResendEmailClient creates a new ResendEmailClient
func NewResendEmailClient(client *resend.Client, defaultSender string, logger echo.Logger) *ResendEmailClient {
	return &ResendEmailClient{
		client:        client,
		defaultSender: defaultSender,
		logger:        logger,
	}
}

// SendAsync sends an email asynchronously
func (c *ResendEmailClient) SendAsync(toEmail, subject, htmlBody string) {
	if c == nil || c.client == nil {
		fmt.Println("Resend client not initialized, skipping email.")
		return
	}

	if c.defaultSender == "" {
		c.logger.Errorf("Resend default sender not configured, skipping email.")
		return
	}

	go func() {
		params := &resend.SendEmailRequest{
			From:    c.defaultSender,
			To:      []string{toEmail},
			Subject: subject,
			Html:    htmlBody,
		}

		_, err := c.client.Emails.Send(params)
		if err != nil {
			c.logger.Errorf("Failed to send email to %s (Subject: %s): %v", toEmail, subject, err)
		} else {
			c.logger.Infof("Email sent successfully to %s (Subject: %s)", toEmail, subject)
		}
	}()
}

func (c *ResendEmailClient) loadTemplate(name string, replacements ...string) (string, bool) {
	templateBytes, err := os.ReadFile("web/emails/" + name)
	if err != nil {
		c.logger.Errorf("Failed to read email template %s: %v", name, err)
		return "", false
	}
	return strings.NewReplacer(replacements...).Replace(string(templateBytes)), true
}

// SendWelcomeEmail sends a welcome email to a new user
func (c *ResendEmailClient) SendWelcomeEmail(user *models.User) {
	if user == nil {
		c.logger.Error("Cannot send welcome email to nil user")
		return
	}

	htmlBody, ok := c.loadTemplate("questtable-welcome.html", "{first_name}", user.FirstName)
	if !ok {
		return
	}

	subject := "Welcome to QuestTable " + user.FirstName

	c.SendAsync(user.Email, subject, htmlBody)
}

func (c *ResendEmailClient) SendPasswordResetEmail(toEmail, resetLink string) {
	if toEmail == "" || resetLink == "" {
		c.logger.Error("Cannot send password reset email with empty email or link")
		return
	}

	htmlBody, ok := c.loadTemplate("questtable-password-reset.html", "{reset_link}", resetLink)
	if !ok {
		return
	}

	subject := "QuestTable Password Reset Request"

	c.SendAsync(toEmail, subject, htmlBody)
}

// SendJoinRequestEmail tells a host that a player wants a seat at their table
func (c *ResendEmailClient) SendJoinRequestEmail(host *models.User, playerName string, session *models.Session) {
	if host == nil || session == nil {
		c.logger.Error("Cannot send join request email without host and session")
		return
	}
	if !host.EmailSubscriptions.SessionEmails {
		return
	}

	htmlBody, ok := c.loadTemplate("questtable-join-request.html",
		"{first_name}", host.FirstName,
		"{player_name}", playerName,
		"{game}", session.Game,
		"{date}", session.Date.Format("Mon, Jan 2 2006"),
	)
	if !ok {
		return
	}

	subject := fmt.Sprintf("%s wants to join your %s session", playerName, session.Game)

	c.SendAsync(host.Email, subject, htmlBody)
}

// SendSeatApprovedEmail tells a player their pending request was approved
func (c *ResendEmailClient) SendSeatApprovedEmail(player *models.User, hostName string, session *models.Session) {
	if player == nil || session == nil {
		c.logger.Error("Cannot send seat approved email without player and session")
		return
	}
	if !player.EmailSubscriptions.SessionEmails {
		return
	}

	htmlBody, ok := c.loadTemplate("questtable-seat-approved.html",
		"{first_name}", player.FirstName,
		"{host_name}", hostName,
		"{game}", session.Game,
		"{date}", session.Date.Format("Mon, Jan 2 2006"),
	)
	if !ok {
		return
	}

	subject := fmt.Sprintf("You're in! %s approved you for %s", hostName, session.Game)

	c.SendAsync(player.Email, subject, htmlBody)
}

// SendSubscriptionConfirmationEmail sends a subscription confirmation email
func (c *ResendEmailClient) SendSubscriptionConfirmationEmail(user *models.User) {
	if user == nil {
		c.logger.Error("Cannot send subscription confirmation email to nil user")
		return
	}

	htmlBody, ok := c.loadTemplate("questtable-subscription.html", "{first_name}", user.FirstName)
	if !ok {
		return
	}

	subject := "Welcome to QuestTable Pro! 🎲"

	c.SendAsync(user.Email, subject, htmlBody)
}

// SendSubscriptionCancellationEmail sends a subscription cancellation email
func (c *ResendEmailClient) SendSubscriptionCancellationEmail(user *models.User) {
	if user == nil {
		c.logger.Error("Cannot send subscription cancellation email to nil user")
		return
	}

	htmlBody, ok := c.loadTemplate("questtable-unsubscribe.html", "{first_name}", user.FirstName)
	if !ok {
		return
	}

	subject := "We're sorry to see you go 😢"

	c.SendAsync(user.Email, subject, htmlBody)
}
