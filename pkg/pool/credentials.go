package pool

import (
	"context"
	"errors"
	"fmt"

	"orbital-hq/callisto/pkg/upstream"
)

// Credential returns a valid access token for the account, refreshing
// via OAuth when the cached one is missing or near expiry. The refresh
// round trip runs outside the pool lock; concurrent callers may race a
// refresh, which is harmless since the token endpoint mints independent
// access tokens.
func (p *Pool) Credential(ctx context.Context, email string) (string, error) {
	p.mu.Lock()
	a, ok := p.byEmail[email]
	if !ok {
		p.mu.Unlock()
		return "", fmt.Errorf("unknown account %q", email)
	}
	if cred, ok := p.creds[email]; ok && cred.Valid(p.now()) {
		p.mu.Unlock()
		return cred.AccessToken, nil
	}
	refreshToken := a.RefreshToken
	p.mu.Unlock()

	cred, err := p.client.RefreshCredential(ctx, refreshToken)
	if err != nil {
		var authErr *upstream.AuthError
		if errors.As(err, &authErr) {
			p.MarkInvalid(email, "oauth refresh rejected: "+authErr.Message)
		}
		return "", fmt.Errorf("refresh credential for %s: %w", email, err)
	}

	p.mu.Lock()
	p.creds[email] = cred
	if cred.RefreshToken != "" && cred.RefreshToken != a.RefreshToken {
		// Google rotates refresh tokens occasionally; persist the new one
		// or the account dies on the next process restart.
		a.RefreshToken = cred.RefreshToken
		p.notifyLocked()
	}
	p.mu.Unlock()

	return cred.AccessToken, nil
}

// InvalidateCredential drops an account's cached access token after the
// upstream rejected it, forcing a refresh on the next use. It does not
// mark the account invalid; that only happens when the refresh itself
// fails.
func (p *Pool) InvalidateCredential(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creds, email)
}

// Project resolves the upstream project id for an account. An
// operator-supplied id is used as is; otherwise the id is discovered
// once via loadCodeAssist and cached on the account.
func (p *Pool) Project(ctx context.Context, email, accessToken string) (string, error) {
	p.mu.Lock()
	a, ok := p.byEmail[email]
	if !ok {
		p.mu.Unlock()
		return "", fmt.Errorf("unknown account %q", email)
	}
	if a.ProjectID != "" {
		id := a.ProjectID
		p.mu.Unlock()
		return id, nil
	}
	endpoints := p.client.Endpoints()
	p.mu.Unlock()

	var lastErr error
	for _, endpoint := range endpoints {
		id, err := p.client.LoadProject(ctx, endpoint, accessToken)
		if err != nil {
			lastErr = err
			continue
		}
		p.mu.Lock()
		a.ProjectID = id
		p.discoveredProjects[email] = true
		p.notifyLocked()
		p.mu.Unlock()
		return id, nil
	}
	return "", fmt.Errorf("discover project for %s: %w", email, lastErr)
}

// InvalidateProject forgets a discovered project id so the next request
// rediscovers it. Operator-supplied ids are left alone.
func (p *Pool) InvalidateProject(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.discoveredProjects[email] {
		return
	}
	if a, ok := p.byEmail[email]; ok {
		a.ProjectID = ""
	}
	delete(p.discoveredProjects, email)
}
