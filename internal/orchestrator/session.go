package orchestrator

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
)

// Token returns the current session token.
func (o *Orchestrator) Token() cloudapi.Token {
	o.tokenMu.RLock()
	defer o.tokenMu.RUnlock()
	return o.token
}

// setToken replaces the session token and persists it.
func (o *Orchestrator) setToken(ctx context.Context, tok cloudapi.Token) {
	o.tokenMu.Lock()
	o.token = tok
	o.tokenMu.Unlock()
	o.api.SetToken(tok.Token)

	if o.opts.Store == nil {
		return
	}
	if err := o.opts.Store.Save(ctx, tok); err != nil {
		o.logger.Warn("failed to persist session token", "error", err)
	}
}

// RestoreSession loads a persisted token. It reports whether a usable
// token was found. A stale token is still restored; the next update
// cycle refreshes it.
func (o *Orchestrator) RestoreSession(ctx context.Context) (bool, error) {
	if o.opts.Store == nil {
		return false, nil
	}
	tok, ok, err := o.opts.Store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("loading session token: %w", err)
	}
	if !ok || !tok.Valid() {
		return false, nil
	}
	o.tokenMu.Lock()
	o.token = tok
	o.tokenMu.Unlock()
	o.api.SetToken(tok.Token)
	o.logger.Info("session restored", "issued_at", tok.IssuedAt)
	return true, nil
}

// Login exchanges the configured credentials for a new token pair.
//
// Returns:
//   - error: ErrNoCredentials, or a cloudapi error wrapping ErrLogin
func (o *Orchestrator) Login(ctx context.Context) error {
	if o.opts.Email == "" || o.opts.Password == "" {
		return ErrNoCredentials
	}
	var tok cloudapi.Token
	_, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		var err error
		tok, err = o.api.Login(ctx, o.opts.Email, o.opts.Password)
		return nil, err
	})
	if err != nil {
		return err
	}
	o.setToken(ctx, tok)
	o.logger.Info("logged in to cloud")
	return nil
}

// RefreshToken exchanges the refresh token for a new token pair.
//
// Returns:
//   - error: wraps cloudapi.ErrRefresh on any failure
func (o *Orchestrator) RefreshToken(ctx context.Context) error {
	refresh := o.Token().RefreshToken
	if refresh == "" {
		return fmt.Errorf("%w: no refresh token", cloudapi.ErrRefresh)
	}
	var tok cloudapi.Token
	_, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		var err error
		tok, err = o.api.RefreshToken(ctx, refresh)
		return nil, err
	})
	if err != nil {
		return err
	}
	o.setToken(ctx, tok)
	o.logger.Info("session token refreshed")
	return nil
}

// Logout disconnects every push channel, asks the cloud to end the
// session and clears the local token. The server call is best effort;
// its failure is logged and not returned.
func (o *Orchestrator) Logout(ctx context.Context) {
	for _, ch := range o.channelList() {
		ch.Disconnect()
	}

	if o.Token().Valid() {
		_, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
			return nil, o.api.Logout(ctx)
		})
		if err != nil {
			o.logger.Debug("cloud logout failed", "error", err)
		}
	}

	o.tokenMu.Lock()
	o.token = cloudapi.Token{}
	o.tokenMu.Unlock()
	o.api.SetToken("")

	if o.opts.Store != nil {
		if err := o.opts.Store.Clear(ctx); err != nil {
			o.logger.Warn("failed to clear session token", "error", err)
		}
	}
	o.logger.Info("logged out of cloud")
}

// ensureToken logs in when there is no token and refreshes a stale one,
// falling back to a fresh login when the refresh fails. Concurrent
// callers share one refresh, which is detached from the cancellation of
// whichever caller started it.
func (o *Orchestrator) ensureToken(ctx context.Context) error {
	shared := context.WithoutCancel(ctx)
	ch := o.refresh.DoChan("token", func() (any, error) {
		tok := o.Token()
		if !tok.Valid() {
			return nil, o.Login(shared)
		}
		if !tok.Stale(o.opts.TokenRefreshPeriod, o.now()) {
			return nil, nil
		}
		if err := o.RefreshToken(shared); err != nil {
			o.logger.Warn("token refresh failed, logging in again", "error", err)
			return nil, o.Login(shared)
		}
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
