package controllers

import (
	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/env"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
	"github.com/fieldfox/FieldFox/internal/pkg/syncer"
	"github.com/fieldfox/FieldFox/internal/pkg/webhook"
)

// newSyncEngine builds a sync engine on the global repositories. Engines are
// cheap to construct; each one carries its own lock owner identity.
func newSyncEngine() *syncer.Engine {
	repos := repository.GetGlobalRepositories()
	return syncer.NewEngine(servicem8.NewClientFromEnv(), repos.Mirror, repos.Sync)
}

// newIngestor builds a webhook ingestor on the global repositories.
func newIngestor() *webhook.Ingestor {
	repos := repository.GetGlobalRepositories()
	client := servicem8.NewClientFromEnv()
	secret := env.GetEnv("SERVICEM8_WEBHOOK_SECRET", "")
	return webhook.NewIngestor(repos.WebhookEvent, repos.RetryQueue, newSyncEngine(), client, secret)
}
