package organisation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/connector"
	"github.com/fyrsmithlabs/searchd/internal/events"
)

func newTestService(t *testing.T, bus events.Bus) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryRepository(), connector.NewCatalog(), bus, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func createOrg(t *testing.T, svc *Service) *Organisation {
	t.Helper()
	org, err := svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	return org
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, connector.NewCatalog(), nil, nil)
	require.Error(t, err)

	_, err = NewService(NewMemoryRepository(), nil, nil, nil)
	require.Error(t, err)

	svc, err := NewService(NewMemoryRepository(), connector.NewCatalog(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestService_Retrieve(t *testing.T) {
	svc := newTestService(t, nil)
	org := createOrg(t, svc)

	got, err := svc.Retrieve(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.ID, got.ID)
	assert.Equal(t, "acme", got.Name)

	_, err = svc.Retrieve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Retrieve(context.Background(), "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestService_InstallApp(t *testing.T) {
	ctx := context.Background()

	t.Run("installs with empty links", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)

		updated, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)
		require.Len(t, updated.InstalledApps, 1)
		assert.Equal(t, connector.WebConnector, updated.InstalledApps[0].ConnectorName)
		assert.Empty(t, updated.InstalledApps[0].Links)
		assert.Empty(t, updated.InstalledApps[0].InstallationID)
	})

	t.Run("duplicate install fails", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)

		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)

		_, err = svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.ErrorIs(t, err, ErrAlreadyInstalled)

		apps, err := svc.ListInstalledApps(ctx, org.ID)
		require.NoError(t, err)
		assert.Len(t, apps, 1)
	})

	t.Run("unknown connector fails", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)

		_, err := svc.InstallApp(ctx, org.ID, connector.Name("dropbox"))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown organisation fails", func(t *testing.T) {
		svc := newTestService(t, nil)
		_, err := svc.InstallApp(ctx, "missing", connector.WebConnector)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_ListInstalledApps_Empty(t *testing.T) {
	svc := newTestService(t, nil)
	org := createOrg(t, svc)

	apps, err := svc.ListInstalledApps(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestService_UpsertLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending link", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)
		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)

		link, err := svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			ID:       "l1",
			Location: "https://example.com",
			Title:    "Example",
		}, UpsertLinkOptions{})
		require.NoError(t, err)
		assert.Equal(t, LinkPending, link.Status)
		assert.Equal(t, "https://example.com", link.Location)
		assert.False(t, link.UpdatedAt.IsZero())
	})

	t.Run("merge preserves unsupplied fields", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)
		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)

		_, err = svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			ID:          "l1",
			Location:    "https://example.com",
			Title:       "Example",
			Description: "docs site",
		}, UpsertLinkOptions{})
		require.NoError(t, err)

		// Status-only update after a successful crawl.
		link, err := svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			ID:     "l1",
			Status: LinkConnected,
		}, UpsertLinkOptions{})
		require.NoError(t, err)
		assert.Equal(t, LinkConnected, link.Status)
		assert.Equal(t, "https://example.com", link.Location)
		assert.Equal(t, "Example", link.Title)
		assert.Equal(t, "docs site", link.Description)

		apps, err := svc.ListInstalledApps(ctx, org.ID)
		require.NoError(t, err)
		require.Len(t, apps, 1)
		require.Len(t, apps[0].Links, 1)
	})

	t.Run("uninstalled connector fails", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)

		_, err := svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			ID:       "l1",
			Location: "https://example.com",
		}, UpsertLinkOptions{})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing id fails", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)
		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)

		_, err = svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			Location: "https://example.com",
		}, UpsertLinkOptions{})
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invalid status fails", func(t *testing.T) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)
		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)

		_, err = svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			ID:     "l1",
			Status: LinkStatus("bogus"),
		}, UpsertLinkOptions{})
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("emits installation event", func(t *testing.T) {
		bus := events.NewMemoryBus(zap.NewNop())
		defer bus.Close()

		svc := newTestService(t, bus)
		org := createOrg(t, svc)
		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)

		received := make(chan events.InstallationEvent, 1)
		_, err = bus.Subscribe(events.InstalledTopic(connector.WebConnector.String()), func(_ context.Context, ev events.Event) error {
			var payload events.InstallationEvent
			if err := ev.Decode(&payload); err != nil {
				return err
			}
			received <- payload
			return nil
		})
		require.NoError(t, err)

		_, err = svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
			ID:       "l1",
			Location: "https://example.com",
		}, UpsertLinkOptions{EmitEvent: true})
		require.NoError(t, err)

		select {
		case payload := <-received:
			assert.Equal(t, org.ID, payload.OrganisationID)
			assert.Equal(t, "webConnector", payload.ConnectorName)
			assert.Equal(t, "l1", payload.LinkID)
			assert.Equal(t, "https://example.com", payload.LinkLocation)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for installation event")
		}
	})
}

func TestService_UpdateInstalledApps(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *Organisation) {
		svc := newTestService(t, nil)
		org := createOrg(t, svc)
		_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
		require.NoError(t, err)
		_, err = svc.InstallApp(ctx, org.ID, connector.Notion)
		require.NoError(t, err)
		return svc, org
	}

	t.Run("updates matching app only", func(t *testing.T) {
		svc, org := setup(t)

		updated, err := svc.UpdateInstalledApps(ctx, org.ID, []AppUpdate{{
			ConnectorName:  connector.WebConnector,
			InstallationID: "inst-1",
			Permissions:    []string{"read"},
		}})
		require.NoError(t, err)

		web := updated.App(connector.WebConnector)
		require.NotNil(t, web)
		assert.Equal(t, "inst-1", web.InstallationID)
		assert.Equal(t, []string{"read"}, web.Permissions)

		notion := updated.App(connector.Notion)
		require.NotNil(t, notion)
		assert.Empty(t, notion.InstallationID)
	})

	t.Run("unmatched connector rejects whole batch", func(t *testing.T) {
		svc, org := setup(t)

		_, err := svc.UpdateInstalledApps(ctx, org.ID, []AppUpdate{
			{ConnectorName: connector.WebConnector, InstallationID: "inst-1"},
			{ConnectorName: connector.GoogleDrive, InstallationID: "inst-2"},
		})
		require.ErrorIs(t, err, ErrValidation)

		// Nothing was mutated, including the entry that did match.
		apps, err := svc.ListInstalledApps(ctx, org.ID)
		require.NoError(t, err)
		for _, app := range apps {
			assert.Empty(t, app.InstallationID, "app %s", app.ConnectorName)
		}
	})

	t.Run("zero values preserve existing credentials", func(t *testing.T) {
		svc, org := setup(t)

		_, err := svc.UpdateInstalledApps(ctx, org.ID, []AppUpdate{{
			ConnectorName:  connector.WebConnector,
			InstallationID: "inst-1",
			Permissions:    []string{"read", "write"},
		}})
		require.NoError(t, err)

		updated, err := svc.UpdateInstalledApps(ctx, org.ID, []AppUpdate{{
			ConnectorName: connector.WebConnector,
		}})
		require.NoError(t, err)

		web := updated.App(connector.WebConnector)
		assert.Equal(t, "inst-1", web.InstallationID)
		assert.Equal(t, []string{"read", "write"}, web.Permissions)
	})

	t.Run("empty batch fails", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.UpdateInstalledApps(ctx, "whatever", nil)
		require.ErrorIs(t, err, ErrValidation)
	})
}

func TestService_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	org := createOrg(t, svc)
	_, err := svc.InstallApp(ctx, org.ID, connector.WebConnector)
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := "l" + string(rune('a'+i%8))
			_, err := svc.UpsertLink(ctx, org.ID, connector.WebConnector, LinkUpdate{
				ID:       id,
				Location: "https://example.com/" + id,
			}, UpsertLinkOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	apps, err := svc.ListInstalledApps(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Len(t, apps[0].Links, 8)

	seen := map[string]bool{}
	for _, link := range apps[0].Links {
		assert.False(t, seen[link.ID], "duplicate link %s", link.ID)
		seen[link.ID] = true
	}
}
