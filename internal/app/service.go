package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mdcms/api/internal/auth"
	"mdcms/api/internal/authpw"
	"mdcms/api/internal/config"
	"mdcms/api/internal/connect"
	"mdcms/api/internal/docstore"
	"mdcms/api/internal/email"
	"mdcms/api/internal/frontmatter"
	"mdcms/api/internal/github"
	"mdcms/api/internal/ratelimit"
	"mdcms/api/internal/search"
	"mdcms/api/internal/store"
	"mdcms/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type CreateProjectInput struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Repository       string `json:"repository"`
	ContentDirectory string `json:"contentDirectory"`
}

type SaveDocumentInput struct {
	Header       frontmatter.Header `json:"frontMatter"`
	Body         string             `json:"content"`
	ExpectedHash string             `json:"sha"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	CreateProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsByUser(context.Context, string) ([]store.Project, error)
	UpdateProjectContentDirectory(context.Context, string, string) error
	DeleteProject(context.Context, string) error
	Ping(ctx context.Context) error
}

// SessionStore holds refresh token records. Both the Postgres store and
// the Redis store satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type accountService interface {
	SignUp(ctx context.Context, email, password string) (store.User, error)
	SignIn(ctx context.Context, email, password string) (store.User, error)
	IssueMagicLink(ctx context.Context, email string) (string, error)
	RedeemMagicLink(ctx context.Context, token string) (store.User, error)
}

type connector interface {
	Begin(ctx context.Context, userID string) (string, error)
	Complete(ctx context.Context, state, code string) (string, github.Account, error)
	Disconnect(ctx context.Context, userID string) error
}

type repoAPI interface {
	ListRepositories(ctx context.Context, token string) ([]github.Repository, error)
	GetRepository(ctx context.Context, token, fullName string) (github.Repository, error)
}

type mailer interface {
	IsConfigured() bool
	SendMagicLinkEmail(to, loginURL string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	RemoveProject(projectID string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	accounts accountService
	docs     *docstore.Store
	connect  connector
	repos    repoAPI
	limiter  *ratelimit.Limiter
	mail     mailer
	search   searchIndex
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions SessionStore,
	accounts *authpw.Service,
	docs *docstore.Store,
	connectSvc *connect.Service,
	repos repoAPI,
	limiter *ratelimit.Limiter,
	mail *email.Service,
	searchSvc *search.Service,
) *Service {
	service := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		accounts: accounts,
		docs:     docs,
		connect:  connectSvc,
		repos:    repos,
		limiter:  limiter,
		mail:     mail,
	}
	if searchSvc != nil {
		service.search = searchSvc
	}
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// ── Accounts and sessions ──

func (s *Service) SignUp(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password, remoteKey string) (Session, error) {
	if s.limiter != nil && !s.limiter.Allow(rateKey(remoteKey, emailAddr)) {
		return Session{}, domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts, try again later", nil)
	}
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	if s.limiter != nil {
		s.limiter.Reset(rateKey(remoteKey, emailAddr))
	}
	return s.issueSession(ctx, user)
}

// RequestMagicLink issues a one-time sign-in link and mails it when SMTP is
// configured. The returned token is non-empty only for dev setups without
// SMTP, so the handler can surface it instead of mailing.
func (s *Service) RequestMagicLink(ctx context.Context, emailAddr, remoteKey string) (string, error) {
	if s.limiter != nil && !s.limiter.Allow(rateKey(remoteKey, emailAddr)) {
		return "", domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts, try again later", nil)
	}
	token, err := s.accounts.IssueMagicLink(ctx, emailAddr)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		loginURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/auth/magic?token=" + token
		if err := s.mail.SendMagicLinkEmail(emailAddr, loginURL); err != nil {
			return "", fmt.Errorf("send magic link: %w", err)
		}
		return "", nil
	}
	return token, nil
}

func (s *Service) RedeemMagicLink(ctx context.Context, token string) (Session, error) {
	user, err := s.accounts.RedeemMagicLink(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Session backends may carry only the user id; reload the full row.
	if user.Email == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ── GitHub connection ──

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	githubInfo := map[string]any{"connected": false}
	if user.Connected() {
		githubInfo = map[string]any{
			"connected": true,
			"username":  user.GitHubUsername,
		}
	}
	return map[string]any{
		"userId":   user.ID,
		"email":    user.Email,
		"verified": user.Verified,
		"github":   githubInfo,
	}, nil
}

func (s *Service) BeginConnect(ctx context.Context, session Session) (string, error) {
	return s.connect.Begin(ctx, session.UserID)
}

func (s *Service) CompleteConnect(ctx context.Context, state, code string) (map[string]any, error) {
	userID, account, err := s.connect.Complete(ctx, state, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"userId": userID,
		"github": map[string]any{
			"connected": true,
			"username":  account.Login,
			"avatarUrl": account.AvatarURL,
		},
	}, nil
}

func (s *Service) DisconnectGitHub(ctx context.Context, session Session) error {
	return s.connect.Disconnect(ctx, session.UserID)
}

func (s *Service) ListRepositories(ctx context.Context, session Session) ([]github.Repository, error) {
	user, err := s.connectedUser(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.repos.ListRepositories(ctx, user.GitHubAccessToken)
}

// ── Projects ──

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (store.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Project{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	repository := strings.TrimSpace(input.Repository)
	if repository == "" {
		return store.Project{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "repository is required", nil)
	}

	user, err := s.connectedUser(ctx, session)
	if err != nil {
		return store.Project{}, err
	}
	// Verify the account can actually reach the chosen repository.
	if _, err := s.repos.GetRepository(ctx, user.GitHubAccessToken, repository); err != nil {
		return store.Project{}, err
	}

	project := store.Project{
		ID:               uuid.NewString(),
		UserID:           session.UserID,
		Name:             name,
		Description:      strings.TrimSpace(input.Description),
		Repository:       repository,
		ContentDirectory: strings.Trim(strings.TrimSpace(input.ContentDirectory), "/"),
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) ([]store.Project, error) {
	return s.store.ListProjectsByUser(ctx, session.UserID)
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	return s.ownedProject(ctx, session, projectID)
}

func (s *Service) SetContentDirectory(ctx context.Context, session Session, projectID, contentDirectory string) (store.Project, error) {
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return store.Project{}, err
	}
	cleaned := strings.Trim(strings.TrimSpace(contentDirectory), "/")
	if err := s.store.UpdateProjectContentDirectory(ctx, project.ID, cleaned); err != nil {
		return store.Project{}, err
	}
	project.ContentDirectory = cleaned
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.RemoveProject(project.ID)
	}
	return nil
}

// ── Documents ──

func (s *Service) ListFiles(ctx context.Context, session Session, projectID, path string) ([]docstore.Entry, error) {
	token, scope, _, err := s.projectScope(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.docs.List(ctx, token, scope, path)
}

func (s *Service) ReadDocument(ctx context.Context, session Session, projectID, path string) (docstore.Document, error) {
	token, scope, _, err := s.projectScope(ctx, session, projectID)
	if err != nil {
		return docstore.Document{}, err
	}
	return s.docs.Read(ctx, token, scope, path)
}

func (s *Service) SaveDocument(ctx context.Context, session Session, projectID, path string, input SaveDocumentInput) (docstore.WriteResult, error) {
	token, scope, project, err := s.projectScope(ctx, session, projectID)
	if err != nil {
		return docstore.WriteResult{}, err
	}
	result, err := s.docs.Write(ctx, token, scope, path, input.Header, input.Body, input.ExpectedHash)
	if err != nil {
		return docstore.WriteResult{}, err
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:        search.RecordID(project.ID, path),
			ProjectID: project.ID,
			Path:      path,
			Title:     documentTitle(input.Header, path),
			Body:      input.Body,
		})
	}
	return result, nil
}

// Search queries the document index. The shared index holds every
// user's documents, so the query is always pinned to projects the
// session owns: the named one, or all of them when projectID is empty.
func (s *Service) Search(ctx context.Context, session Session, projectID, text string, limit, offset int) (search.Response, error) {
	query := search.Query{Text: text, Limit: limit, Offset: offset}
	if projectID != "" {
		if _, err := s.ownedProject(ctx, session, projectID); err != nil {
			return search.Response{}, err
		}
		query.ProjectID = projectID
	} else {
		projects, err := s.store.ListProjectsByUser(ctx, session.UserID)
		if err != nil {
			return search.Response{}, err
		}
		if len(projects) == 0 {
			return search.Response{Results: []search.Result{}, Query: text}, nil
		}
		ids := make([]string, 0, len(projects))
		for _, project := range projects {
			ids = append(ids, project.ID)
		}
		query.ProjectIDs = ids
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(query), nil
}

// ── helpers ──

func (s *Service) connectedUser(ctx context.Context, session Session) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.User{}, err
	}
	if !user.Connected() {
		return store.User{}, domainError(http.StatusPreconditionFailed, "PRECONDITION_FAILED", "GitHub account is not connected", nil)
	}
	return user, nil
}

func (s *Service) ownedProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.UserID != session.UserID {
		// Hide other users' projects entirely.
		return store.Project{}, store.ErrNotFound
	}
	return project, nil
}

func (s *Service) projectScope(ctx context.Context, session Session, projectID string) (string, docstore.Scope, store.Project, error) {
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return "", docstore.Scope{}, store.Project{}, err
	}
	user, err := s.connectedUser(ctx, session)
	if err != nil {
		return "", docstore.Scope{}, store.Project{}, err
	}
	scope := docstore.Scope{
		Repo:        project.Repository,
		ContentRoot: project.ContentDirectory,
	}
	return user.GitHubAccessToken, scope, project, nil
}

func documentTitle(header frontmatter.Header, path string) string {
	if header != nil {
		if title, ok := header["title"].(string); ok && strings.TrimSpace(title) != "" {
			return title
		}
	}
	name := path
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSuffix(strings.TrimSuffix(name, ".mdx"), ".md")
}

func rateKey(remoteKey, emailAddr string) string {
	return remoteKey + "|" + strings.ToLower(strings.TrimSpace(emailAddr))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var apiErr *github.APIError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, github.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, github.ErrNotFile):
		return http.StatusBadRequest, "NOT_DOCUMENT", "Path is not a markdown document", nil
	case errors.Is(err, github.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Document was modified by someone else", nil
	case errors.Is(err, docstore.ErrPathViolation):
		return http.StatusBadRequest, "PATH_VIOLATION", "Path escapes the content directory", nil
	case errors.Is(err, connect.ErrInvalidState):
		return http.StatusBadRequest, "INVALID_STATE", "Authorization state is invalid or expired", nil
	case errors.Is(err, connect.ErrAlreadyConnected):
		return http.StatusPreconditionFailed, "PRECONDITION_FAILED", "GitHub account is already connected", nil
	case errors.Is(err, connect.ErrProjectsExist):
		return http.StatusPreconditionFailed, "PRECONDITION_FAILED", "Disconnect requires deleting all projects first", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrLinkInvalid):
		return http.StatusBadRequest, "LINK_INVALID", "Invalid or expired link", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "REMOTE_ERROR", fmt.Sprintf("GitHub responded with %d: %s", apiErr.StatusCode, apiErr.Message), map[string]any{
			"upstreamStatus": apiErr.StatusCode,
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
