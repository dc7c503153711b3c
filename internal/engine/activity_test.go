package engine

import (
	"testing"
	"time"

	apperrors "github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncident_TenantReportsOnTheirHome(t *testing.T) {
	f := newFixture(t)
	homeless := f.tenant(t, "sans@example.com")
	_, err := f.Incidents.Report(ctx, tenantActor(homeless.ID), IncidentInput{Title: "Leak"})
	assert.True(t, apperrors.IsValidation(err))

	tn, lease := f.housed(t, "jean@example.com")
	other := f.building(t, "Ailleurs")

	inc, err := f.Incidents.Report(ctx, tenantActor(tn.ID), IncidentInput{
		BuildingID: other.ID,
		Title:      "  Water leak  ",
		Category:   "plumbing",
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-001", inc.ID)
	assert.Equal(t, "Water leak", inc.Title)
	assert.Equal(t, lease.BuildingID, inc.BuildingID, "building comes from the tenant")
	require.NotNil(t, inc.ApartmentID)
	assert.Equal(t, lease.ApartmentID, *inc.ApartmentID)
	assert.Equal(t, "medium", inc.Priority)
	assert.Equal(t, models.IncidentOpen, inc.Status)
	assert.Equal(t, ActorTenant, inc.ReporterType)

	_, err = f.Incidents.Report(ctx, tenantActor(tn.ID), IncidentInput{Title: "Noise", Priority: "whenever"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestIncident_StaffReportNeedsBuilding(t *testing.T) {
	f := newFixture(t)
	b := f.building(t, "Les Pins")
	other := f.building(t, "Les Chênes")
	a := f.apartment(t, other.ID, "A1", 700)

	_, err := f.Incidents.Report(ctx, staff, IncidentInput{Title: "Elevator"})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Incidents.Report(ctx, staff, IncidentInput{Title: "Elevator", BuildingID: "BLD-999"})
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.Incidents.Report(ctx, staff, IncidentInput{Title: "Elevator", BuildingID: b.ID, ApartmentID: a.ID})
	assert.True(t, apperrors.IsValidation(err))

	inc, err := f.Incidents.Report(ctx, staff, IncidentInput{Title: "Elevator", BuildingID: b.ID, Priority: "urgent"})
	require.NoError(t, err)
	assert.Nil(t, inc.ApartmentID)
	assert.Equal(t, ActorAdmin, inc.ReporterType)
}

func TestIncident_ResolveReopenClose(t *testing.T) {
	f := newFixture(t)
	b := f.building(t, "Les Pins")
	inc, err := f.Incidents.Report(ctx, staff, IncidentInput{Title: "Broken door", BuildingID: b.ID})
	require.NoError(t, err)

	bad := "done"
	_, err = f.Incidents.Update(ctx, staff, inc.ID, IncidentPatch{Status: &bad})
	assert.True(t, apperrors.IsValidation(err))

	resolved, note := models.IncidentResolved, "door replaced"
	got, err := f.Incidents.Update(ctx, staff, inc.ID, IncidentPatch{Status: &resolved, Resolution: &note})
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(f.clock.Now()))
	assert.Equal(t, "door replaced", got.Resolution)

	open := models.IncidentOpen
	got, err = f.Incidents.Update(ctx, staff, inc.ID, IncidentPatch{Status: &open})
	require.NoError(t, err)
	assert.Nil(t, got.ResolvedAt, "reopening clears the resolution date")

	n, err := f.Incidents.CountOpen(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	closed := models.IncidentClosed
	got, err = f.Incidents.Update(ctx, staff, inc.ID, IncidentPatch{Status: &closed})
	require.NoError(t, err)
	assert.NotNil(t, got.ResolvedAt)

	high := "high"
	_, err = f.Incidents.Update(ctx, staff, inc.ID, IncidentPatch{Priority: &high})
	assert.True(t, apperrors.IsConflict(err))

	n, err = f.Incidents.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncident_TenantCancelAndIsolation(t *testing.T) {
	f := newFixture(t)
	tn, _ := f.housed(t, "jean@example.com")
	other, _ := f.housed(t, "marie@example.com")
	me := tenantActor(tn.ID)

	started, err := f.Incidents.Report(ctx, me, IncidentInput{Title: "Heating"})
	require.NoError(t, err)
	inProgress := models.IncidentInProgress
	_, err = f.Incidents.Update(ctx, staff, started.ID, IncidentPatch{Status: &inProgress})
	require.NoError(t, err)
	_, err = f.Incidents.CancelByTenant(ctx, me, started.ID)
	assert.True(t, apperrors.IsConflict(err))

	withdrawn, err := f.Incidents.Report(ctx, me, IncidentInput{Title: "Light bulb"})
	require.NoError(t, err)
	_, err = f.Incidents.CancelByTenant(ctx, tenantActor(other.ID), withdrawn.ID)
	assert.True(t, apperrors.IsNotFound(err))
	got, err := f.Incidents.CancelByTenant(ctx, me, withdrawn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentCancelled, got.Status)

	_, err = f.Incidents.GetForTenant(ctx, other.ID, started.ID)
	assert.True(t, apperrors.IsNotFound(err))

	mine, err := f.Incidents.ListForTenant(ctx, tn.ID, QueryParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, mine.Total)
	theirs, err := f.Incidents.ListForTenant(ctx, other.ID, QueryParams{})
	require.NoError(t, err)
	assert.Zero(t, theirs.Total)
}

func TestMessaging_NeedsAnAdmin(t *testing.T) {
	f := newFixture(t)
	tn := f.tenant(t, "jean@example.com")

	_, err := f.Messaging.StartConversation(ctx, tenantActor(tn.ID), StartInput{Subject: "Hello", Body: "Anyone?"})
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.Messaging.StartConversation(ctx, staff, StartInput{Subject: "Hello"})
	assert.True(t, apperrors.IsValidation(err), "admins name the tenant")
}

func TestMessaging_Conversation(t *testing.T) {
	f := newFixture(t)
	adm := f.admin(t, "anne@example.com")
	tn := f.tenant(t, "jean@example.com")
	other := f.tenant(t, "marie@example.com")
	me := tenantActor(tn.ID)
	desk := Actor{ID: adm.ID, Type: ActorAdmin, Role: models.RoleAdmin}

	conv, err := f.Messaging.StartConversation(ctx, me, StartInput{Subject: "Heating", Body: "The radiator is cold"})
	require.NoError(t, err)
	assert.Equal(t, "CNV-001", conv.ID)
	assert.Equal(t, adm.ID, conv.AdminID, "tenants write to the first active admin")
	assert.Equal(t, "The radiator is cold", conv.LastMessagePreview)
	require.NotNil(t, conv.LastMessageAt)

	again, err := f.Messaging.StartConversation(ctx, me, StartInput{Subject: "Another"})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID, "one conversation per pair")

	_, err = f.Messaging.Send(ctx, me, conv.ID, "   ")
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Messaging.GetConversation(ctx, tenantActor(other.ID), conv.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.Messaging.Send(ctx, tenantActor(other.ID), conv.ID, "hijack")
	assert.True(t, apperrors.IsNotFound(err))

	unread, err := f.Messaging.UnreadCount(ctx, desk)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	f.clock.Advance(time.Hour)
	reply, err := f.Messaging.Send(ctx, desk, conv.ID, "A technician comes tomorrow")
	require.NoError(t, err)
	assert.Equal(t, ActorAdmin, reply.SenderType)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, published{adm.ID, EventMessageCreated}, f.pub.events[0])
	assert.Equal(t, published{tn.ID, EventMessageCreated}, f.pub.events[1])

	list, err := f.Messaging.ListConversations(ctx, me, QueryParams{})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.EqualValues(t, 1, list.Data[0].Unread)
	assert.Equal(t, "Anne Admin", list.Data[0].AdminName)
	assert.Equal(t, "Jean Dupont", list.Data[0].TenantName)

	n, err := f.Messaging.MarkRead(ctx, me, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.Messaging.MarkRead(ctx, me, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	unread, err = f.Messaging.UnreadCount(ctx, me)
	require.NoError(t, err)
	assert.Zero(t, unread)

	messages, err := f.Messaging.ListMessages(ctx, me, conv.ID, QueryParams{})
	require.NoError(t, err)
	require.Len(t, messages.Data, 2)
	assert.Equal(t, "The radiator is cold", messages.Data[0].Body)
	assert.Equal(t, "A technician comes tomorrow", messages.Data[1].Body)

	require.NoError(t, f.Messaging.Archive(ctx, desk, conv.ID))
	var archived models.Conversation
	f.reload(t, &archived, conv.ID)
	assert.Equal(t, models.ConversationArchived, archived.Status)

	_, err = f.Messaging.Send(ctx, me, conv.ID, "Still cold")
	require.NoError(t, err)
	f.reload(t, &archived, conv.ID)
	assert.Equal(t, models.ConversationOpen, archived.Status, "a new message reopens the conversation")
}

func TestMessaging_PreviewIsTruncated(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'é'
	}
	p := []rune(preview(string(long)))
	assert.Len(t, p, previewLength)
	assert.Equal(t, "...", string(p[len(p)-3:]))
	assert.Equal(t, "a b", preview("  a \n\t b "))
}

func TestDocument_Visibility(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")
	other := f.tenant(t, "marie@example.com")
	me := tenantActor(tn.ID)

	_, err := f.Documents.Upload(ctx, staff, UploadInput{Name: "Empty", TenantID: tn.ID})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Documents.Upload(ctx, staff, UploadInput{Name: "Bad", Category: "poetry", Data: []byte("x")})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Documents.Upload(ctx, staff, UploadInput{Name: "Lease", TenantID: other.ID, LeaseID: lease.ID, Data: []byte("x")})
	assert.True(t, apperrors.IsValidation(err), "lease of another tenant")
	assert.Zero(t, f.store.Len())

	internal, err := f.Documents.Upload(ctx, staff, UploadInput{
		TenantID: tn.ID, Category: "inventory", Name: "Check-in notes", FileName: "notes.txt", Data: []byte("scratched floor"),
	})
	require.NoError(t, err)
	assert.Equal(t, "DOC-001", internal.ID)
	assert.Equal(t, "text/plain; charset=utf-8", internal.ContentType)
	assert.EqualValues(t, len("scratched floor"), internal.Size)

	shared, err := f.Documents.Upload(ctx, staff, UploadInput{
		TenantID: tn.ID, LeaseID: lease.ID, Category: "lease", FileName: "../bail 2026.pdf",
		ContentType: "application/pdf", VisibleToTenant: true, Data: []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "../bail 2026.pdf", shared.Name)
	assert.Contains(t, shared.StorageKey, "/bail_2026.pdf")
	assert.Equal(t, 2, f.store.Len())

	_, err = f.Documents.Get(ctx, me, internal.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.Documents.Get(ctx, tenantActor(other.ID), shared.ID)
	assert.True(t, apperrors.IsNotFound(err))

	list, err := f.Documents.List(ctx, me, QueryParams{})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, shared.ID, list.Data[0].ID)
	all, err := f.Documents.List(ctx, staff, QueryParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)

	doc, data, err := f.Documents.Open(ctx, me, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
	assert.Equal(t, "application/pdf", doc.ContentType)
}

func TestDocument_TenantUploadAndDelete(t *testing.T) {
	f := newFixture(t)
	tn, _ := f.housed(t, "jean@example.com")
	other := f.tenant(t, "marie@example.com")
	me := tenantActor(tn.ID)

	doc, err := f.Documents.Upload(ctx, me, UploadInput{
		TenantID: other.ID, Category: "insurance", Name: "Home insurance", FileName: "insurance.txt", Data: []byte("policy 42"),
	})
	require.NoError(t, err)
	require.NotNil(t, doc.TenantID)
	assert.Equal(t, tn.ID, *doc.TenantID, "tenants upload to their own record")
	assert.True(t, doc.VisibleToTenant)
	assert.Equal(t, ActorTenant, doc.UploadedByType)

	_, err = f.Documents.Get(ctx, me, doc.ID)
	require.NoError(t, err)

	require.NoError(t, f.Documents.Delete(ctx, staff, doc.ID))
	assert.Zero(t, f.store.Len())
	_, err = f.Documents.Get(ctx, staff, doc.ID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(f.Documents.Delete(ctx, staff, doc.ID)))
}

func kinds(list []Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.Kind
	}
	return out
}

func TestNotification_ForAdmin(t *testing.T) {
	f := newFixture(t)
	f.admin(t, "anne@example.com")
	tn, lease := f.housed(t, "jean@example.com")

	empty, err := f.Notifications.ForAdmin(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.Messaging.StartConversation(ctx, tenantActor(tn.ID), StartInput{Body: "Hello"})
	require.NoError(t, err)
	_, err = f.Incidents.Report(ctx, tenantActor(tn.ID), IncidentInput{Title: "Gas smell", Priority: "urgent"})
	require.NoError(t, err)
	_, err = f.Applications.Submit(ctx, SubmitInput{FirstName: "Lucie", LastName: "Martin", Email: "lucie@example.com", Password: "secret-pass"})
	require.NoError(t, err)
	f.payment(t, tn.ID, lease.ID, date(2026, 2, 20), "rent")
	_, err = f.Payments.MarkOverdue(ctx)
	require.NoError(t, err)

	list, err := f.Notifications.ForAdmin(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, NotifyIncident, list[0].Kind, "urgent incidents come first")
	assert.Equal(t, SeverityCritical, list[0].Severity)
	assert.Equal(t, NotifyOverdue, list[1].Kind)
	assert.ElementsMatch(t, []string{NotifyMessage, NotifyApplication}, kinds(list[2:]))
	for _, n := range list[2:] {
		if n.Kind == NotifyMessage {
			assert.Equal(t, "1 unread message from a tenant", n.Body)
		}
		if n.Kind == NotifyApplication {
			assert.Contains(t, n.Body, "Lucie Martin")
		}
	}
}

func TestNotification_ForTenant(t *testing.T) {
	f := newFixture(t)
	adm := f.admin(t, "anne@example.com")
	tn, lease := f.housed(t, "jean@example.com")
	me := tenantActor(tn.ID)
	desk := Actor{ID: adm.ID, Type: ActorAdmin, Role: models.RoleAdmin}

	f.payment(t, tn.ID, lease.ID, date(2026, 2, 20), "rent")
	f.payment(t, tn.ID, lease.ID, date(2026, 3, 5), "rent")
	f.payment(t, tn.ID, lease.ID, date(2026, 4, 5), "rent")
	_, err := f.Payments.MarkOverdue(ctx)
	require.NoError(t, err)

	list, err := f.Notifications.ForTenant(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{NotifyOverdue, NotifyDueSoon}, kinds(list), "April rent is not due soon")
	assert.Equal(t, SeverityCritical, list[0].Severity)
	assert.Equal(t, SeverityWarning, list[1].Severity)

	conv, err := f.Messaging.StartConversation(ctx, desk, StartInput{TenantID: tn.ID, Body: "Your rent is late"})
	require.NoError(t, err)
	_, err = f.Incidents.Report(ctx, me, IncidentInput{Title: "Door"})
	require.NoError(t, err)
	_, err = f.Loyalty.Adjust(ctx, staff, tn.ID, AdjustInput{Points: 400, Reason: "welcome"})
	require.NoError(t, err)

	list, err = f.Notifications.ForTenant(ctx, tn.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{NotifyOverdue, NotifyDueSoon, NotifyMessage, NotifyIncident, NotifyTier},
		kinds(list))
	for _, n := range list {
		switch n.Kind {
		case NotifyMessage:
			assert.Equal(t, conv.ID, n.ReferenceID)
			assert.Equal(t, "1 unread message from the management", n.Body)
		case NotifyTier:
			assert.Contains(t, n.Body, string(loyalty.Silver))
		}
	}

	other, _ := f.housed(t, "marie@example.com")
	theirs, err := f.Notifications.ForTenant(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestDashboard_Summary(t *testing.T) {
	f := newFixture(t)
	first, firstLease := f.housed(t, "jean@example.com")
	second, secondLease := f.housed(t, "marie@example.com")
	empty := f.building(t, "Vide")
	f.apartment(t, empty.ID, "A1", 500)

	paid := f.payment(t, first.ID, firstLease.ID, date(2026, 3, 5), "rent")
	_, err := f.Payments.MarkPaid(ctx, staff, paid.ID, paidOn(date(2026, 3, 1)))
	require.NoError(t, err)
	f.payment(t, second.ID, secondLease.ID, date(2026, 3, 5), "rent")
	f.payment(t, second.ID, secondLease.ID, date(2026, 2, 20), "rent")
	_, err = f.Payments.MarkOverdue(ctx)
	require.NoError(t, err)

	_, err = f.Incidents.Report(ctx, tenantActor(first.ID), IncidentInput{Title: "Door"})
	require.NoError(t, err)
	_, err = f.Applications.Submit(ctx, SubmitInput{FirstName: "Lucie", LastName: "Martin", Email: "lucie@example.com", Password: "secret-pass"})
	require.NoError(t, err)

	s, err := f.Dashboard.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Buildings)
	assert.EqualValues(t, 3, s.Apartments)
	assert.EqualValues(t, 2, s.OccupiedApartments)
	assert.EqualValues(t, 1, s.VacantApartments)
	assert.InDelta(t, 66.67, s.OccupancyRate, 0.001)
	assert.EqualValues(t, 2, s.ActiveTenants)
	assert.EqualValues(t, 2, s.ActiveLeases)
	assert.Equal(t, "2026-03", s.Period)
	assert.InDelta(t, 1700.0, s.ExpectedRent, 0.001)
	assert.InDelta(t, 850.0, s.CollectedRent, 0.001)
	assert.InDelta(t, 850.0, s.OverdueAmount, 0.001)
	assert.EqualValues(t, 1, s.OpenIncidents)
	assert.EqualValues(t, 1, s.PendingApplications)
	assert.EqualValues(t, 2, s.TierDistribution[string(loyalty.Bronze)])
	assert.Zero(t, s.TierDistribution[string(loyalty.Diamond)])
}
