package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/odong444/cap-api/pkg/capapi"
)

// Browser abstracts the scraping side: navigating to a store page, grabbing
// the CAPTCHA image and, once the answer is typed in, extracting the seller
// details. Implementations wrap whatever automation stack is in use.
type Browser interface {
	// Open navigates to the store page for the given uid and returns the
	// encoded CAPTCHA screenshot it encounters.
	Open(ctx context.Context, uid string) (screenshot string, err error)
	// Submit types the answer into the page. wrong=true means the page
	// rejected it and a fresh screenshot is needed.
	Submit(ctx context.Context, answer string) (info capapi.SellerInfo, wrong bool, err error)
}

type Runtime struct {
	cfg     Config
	client  *Client
	browser Browser
}

func NewRuntime(cfg Config, client *Client, browser Browser) *Runtime {
	return &Runtime{cfg: cfg, client: client, browser: browser}
}

// Run drives claim cycles until the context is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	started, err := r.client.StartSession(ctx, r.cfg.UserID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if !started.Success {
		return fmt.Errorf("start session refused: %s", started.Message)
	}
	sessionID := started.SessionID
	log.Printf("agent: session %s started for %s", sessionID, r.cfg.UserID)
	defer func() {
		if err := r.client.EndSession(context.Background(), r.cfg.UserID); err != nil {
			log.Printf("agent: end session: %v", err)
		}
	}()

	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.cycle(ctx, sessionID); err != nil {
				log.Printf("agent: cycle failed: %v", err)
			}
		}
	}
}

// cycle runs one claim→present→answer→settle pass. An empty queue is not
// an error, just a quiet tick.
func (r *Runtime) cycle(ctx context.Context, sessionID string) error {
	claimed, err := r.client.ClaimUID(ctx, r.cfg.UserID)
	if err != nil {
		return err
	}
	if !claimed.Success || claimed.UID == nil {
		return nil
	}
	uid := claimed.UID

	screenshot, err := r.browser.Open(ctx, uid.UID)
	if err != nil {
		log.Printf("agent: open %s failed, releasing: %v", uid.UID, err)
		return r.client.ReleaseUID(ctx, r.cfg.UserID, uid.ID)
	}
	for {
		ack, err := r.client.PresentScreenshot(ctx, r.cfg.UserID, screenshot, "solve the captcha for "+uid.UID)
		if err != nil {
			return err
		}
		if !ack.Success {
			return fmt.Errorf("present refused: %s", ack.Message)
		}

		answer, err := r.waitForAnswer(ctx)
		if err != nil {
			return err
		}

		info, wrong, err := r.browser.Submit(ctx, answer)
		if err != nil {
			log.Printf("agent: submit for %s failed, releasing: %v", uid.UID, err)
			return r.client.ReleaseUID(ctx, r.cfg.UserID, uid.ID)
		}
		if wrong {
			if err := r.client.RetryTask(ctx, sessionID); err != nil {
				return err
			}
			screenshot, err = r.browser.Open(ctx, uid.UID)
			if err != nil {
				return r.client.ReleaseUID(ctx, r.cfg.UserID, uid.ID)
			}
			continue
		}

		settled, err := r.client.CompleteUID(ctx, sessionID, r.cfg.UserID, info)
		if err != nil {
			return err
		}
		if !settled.Success {
			return fmt.Errorf("settle refused: %s", settled.Message)
		}
		log.Printf("agent: settled %s, reward %d", uid.UID, settled.Reward)
		return nil
	}
}

func (r *Runtime) waitForAnswer(ctx context.Context) (string, error) {
	deadline := time.Now().Add(r.cfg.AnswerTimeout)
	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
			answer, err := r.client.CheckAnswer(ctx, r.cfg.UserID)
			if err != nil {
				return "", err
			}
			if answer != nil {
				return *answer, nil
			}
			if time.Now().After(deadline) {
				return "", fmt.Errorf("no answer within %s", r.cfg.AnswerTimeout)
			}
		}
	}
}
