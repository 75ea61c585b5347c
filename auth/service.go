package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"emporium/apperr"
	"emporium/models"
	"emporium/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const resetTokenTTL = time.Hour

type TokenIssuer interface {
	Issue(userID, role string) (string, error)
}

type Service struct {
	users       UserRepository
	tokens      TokenIssuer
	mailer      Mailer
	frontendURL string
	now         func() time.Time
	hashCost    int
}

func NewService(users UserRepository, tokens TokenIssuer, mailer Mailer, frontendURL string) *Service {
	return &Service{
		users:       users,
		tokens:      tokens,
		mailer:      mailer,
		frontendURL: frontendURL,
		now:         time.Now,
		hashCost:    bcrypt.DefaultCost,
	}
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type UpdateInput struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

func validateName(name string) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(name)); n < 3 || n > 50 {
		return apperr.Validation("Name must be between 3 and 50 characters")
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("A valid email is required")
	}
	return email, nil
}

func validatePassword(pw string) error {
	if len(pw) < 6 {
		return apperr.Validation("Password must be at least 6 characters")
	}
	return nil
}

func (s *Service) hash(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), s.hashCost)
	if err != nil {
		return "", apperr.Internal("Could not process password", err)
	}
	return string(b), nil
}

func (s *Service) issue(u *models.User) (string, error) {
	tok, err := s.tokens.Issue(u.ID.Hex(), u.Role)
	if err != nil {
		return "", apperr.Internal("Failed to generate token", err)
	}
	return tok, nil
}

// Register creates a user and returns a token for it. Self-registration may
// only produce users and sellers.
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	if err := validateName(in.Name); err != nil {
		return "", err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return "", err
	}
	if err := validatePassword(in.Password); err != nil {
		return "", err
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleSeller {
		return "", apperr.Validation("Role must be user or seller")
	}

	hashed, err := s.hash(in.Password)
	if err != nil {
		return "", err
	}
	now := s.now()
	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hashed,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return "", apperr.Validation("User already exists")
		}
		return "", apperr.Internal("Failed to register user", err)
	}
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", apperr.Validation("Email and password are required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", apperr.Unauthorized("Invalid credentials")
		}
		return "", apperr.Internal("Failed to load user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperr.Unauthorized("Invalid credentials")
	}
	return s.issue(user)
}

// ForgetPassword stores a one hour reset token on the user and mails the link.
func (s *Service) ForgetPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to load user", err)
	}

	token := strings.ReplaceAll(utils.GetUUID(), "-", "")
	user.ResetPasswordToken = token
	user.ResetPasswordExpires = s.now().Add(resetTokenTTL)
	user.UpdatedAt = s.now()
	if err := s.users.Save(ctx, user); err != nil {
		return apperr.Internal("Failed to store reset token", err)
	}

	resetURL := fmt.Sprintf("%s/reset-password/%s", s.frontendURL, token)
	m := Mail{
		To:      user.Email,
		Subject: "Password Reset Request",
		Text:    "You requested a password reset. Visit this link to reset your password: " + resetURL,
		HTML: fmt.Sprintf(`<h1>Reset Your Password</h1>
<p>Please click the link below to reset your password:</p>
<a href="%s" target="_blank">Reset Password</a>
<p>This link will expire in 1 hour.</p>`, resetURL),
	}
	if err := s.mailer.Send(ctx, m); err != nil {
		return apperr.Internal("Failed to send email", err)
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	if token == "" {
		return apperr.Validation("Invalid or expired token")
	}
	user, err := s.users.FindByResetToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperr.Validation("Invalid or expired token")
		}
		return apperr.Internal("Failed to load user", err)
	}
	hashed, err := s.hash(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hashed
	user.ResetPasswordToken = ""
	user.ResetPasswordExpires = time.Time{}
	user.UpdatedAt = s.now()
	if err := s.users.Save(ctx, user); err != nil {
		return apperr.Internal("Failed to reset password", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, actor models.Actor, rawID string) (*models.User, error) {
	id, err := utils.ParseObjectID(rawID, "user id")
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(rawID) {
		return nil, apperr.Forbidden("Access denied")
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("Failed to load user", err)
	}
	return user, nil
}

// UpdateUser changes profile fields. Only administrators may change roles.
func (s *Service) UpdateUser(ctx context.Context, actor models.Actor, rawID string, in UpdateInput) (*models.User, error) {
	user, err := s.load(ctx, actor, rawID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return nil, err
		}
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		if user.PasswordHash, err = s.hash(*in.Password); err != nil {
			return nil, err
		}
	}
	if in.Role != nil && *in.Role != user.Role {
		if !actor.IsAdmin() {
			return nil, apperr.Forbidden("Only administrators can change roles")
		}
		if !models.ValidRole(*in.Role) {
			return nil, apperr.Validation("Invalid role")
		}
		user.Role = *in.Role
	}
	user.UpdatedAt = s.now()

	if err := s.users.Save(ctx, user); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			return nil, apperr.Validation("User already exists")
		case errors.Is(err, ErrUserNotFound):
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("Failed to update user", err)
	}
	return user, nil
}

func (s *Service) DeleteUser(ctx context.Context, actor models.Actor, rawID string) error {
	user, err := s.load(ctx, actor, rawID)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to delete user", err)
	}
	return nil
}

// GrantRole sets the role of the user with email. It backs the grant-role
// command, the only way to create administrators.
func (s *Service) GrantRole(ctx context.Context, email, role string) error {
	if !models.ValidRole(role) {
		return apperr.Validation("Invalid role")
	}
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to load user", err)
	}
	user.Role = role
	user.UpdatedAt = s.now()
	if err := s.users.Save(ctx, user); err != nil {
		return apperr.Internal("Failed to update user", err)
	}
	log.Printf("granted role %s to %s", role, user.Email)
	return nil
}

// Summaries resolves user ids to display names.
func (s *Service) Summaries(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error) {
	return s.users.Summaries(ctx, ids)
}
