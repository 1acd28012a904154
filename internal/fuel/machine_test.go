package fuel

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/teletest"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/store/memory"
	"github.com/Fechomap/cargas-gas/internal/tenant"
	"github.com/Fechomap/cargas-gas/internal/workflow"

	tele "gopkg.in/telebot.v4"
)

var (
	testLoc = time.FixedZone("CST", -6*3600)
	testNow = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
)

// flakyStore fails selected writes on demand.
type flakyStore struct {
	*memory.Store
	insertErr error
	redateErr error
}

func (s *flakyStore) InsertFuel(ctx context.Context, rec *domain.FuelRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Store.InsertFuel(ctx, rec)
}

func (s *flakyStore) UpdateRecordDate(ctx context.Context, tenantID, id string, date time.Time) error {
	if s.redateErr != nil {
		return s.redateErr
	}
	return s.Store.UpdateRecordDate(ctx, tenantID, id, date)
}

type recordingAnnouncer struct {
	chats []int64
	texts []string
}

func (a *recordingAnnouncer) Announce(_ context.Context, chatID int64, text string) {
	a.chats = append(a.chats, chatID)
	a.texts = append(a.texts, text)
}

type fixture struct {
	st        *flakyStore
	svc       *Service
	announcer *recordingAnnouncer
	res       *tenant.Resolution
	unit      domain.Unit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &flakyStore{Store: memory.New()}
	u := domain.Unit{TenantID: "t1", OperatorName: "Juan", UnitNumber: "U1"}
	require.NoError(t, st.CreateUnit(context.Background(), &u))

	a := &recordingAnnouncer{}
	svc := NewService(Options{Store: st, Announcer: a, Now: func() time.Time { return testNow }})
	return &fixture{
		st:        st,
		svc:       svc,
		announcer: a,
		unit:      u,
		res: &tenant.Resolution{
			Tenant:   &domain.Tenant{ID: "t1", CompanyName: "Acme", ChatID: "-100", IsActive: true, IsApproved: true},
			Settings: domain.DefaultSettings("t1", ""),
		},
	}
}

// attach makes c look like an update the pipeline resolved to the fixture tenant.
func (f *fixture) attach(c tele.Context) {
	tghelpers.UpdateContext(c, func(ctx context.Context) context.Context {
		return tenant.WithResolution(ctx, f.res)
	})
}

func (f *fixture) records(t *testing.T, sale string) []domain.FuelRecord {
	t.Helper()
	list, err := f.svc.Search(context.Background(), "t1", sale)
	require.NoError(t, err)
	return list
}

type conversation struct {
	t      *testing.T
	f      *fixture
	engine *workflow.Engine
	chat   *tele.Chat
	user   *tele.User
	last   *teletest.Context
}

func newConversation(t *testing.T, f *fixture) *conversation {
	t.Helper()
	e, err := workflow.NewEngine(NewMachine(f.svc, testLoc))
	require.NoError(t, err)
	e.SetClock(func() time.Time { return testNow })
	return &conversation{t: t, f: f, engine: e, chat: teletest.Chat(-100, tele.ChatGroup), user: teletest.User(42)}
}

func (cv *conversation) next(upd tele.Update) *teletest.Context {
	c := teletest.NewContext(upd)
	cv.f.attach(c)
	if cv.last != nil {
		session.Save(c, session.From(cv.last))
	}
	cv.last = c
	return c
}

func (cv *conversation) start() *teletest.Context {
	c := cv.next(teletest.Message(cv.chat, cv.user, "/carga"))
	require.NoError(cv.t, cv.engine.Start(c, session.Fuel))
	return c
}

func (cv *conversation) say(text string) *teletest.Context {
	c := cv.next(teletest.Message(cv.chat, cv.user, text))
	require.NoError(cv.t, cv.engine.HandleText(c))
	return c
}

func (cv *conversation) photo(fileID string) *teletest.Context {
	c := cv.next(teletest.Photo(cv.chat, cv.user, fileID))
	require.NoError(cv.t, cv.engine.HandlePhoto(c))
	return c
}

func (cv *conversation) press(action, payload string) *teletest.Context {
	c := cv.next(teletest.Callback(cv.chat, cv.user, action, payload))
	require.NoError(cv.t, cv.engine.Action(c))
	return c
}

func (cv *conversation) state() string {
	return session.From(cv.last).State
}

func (cv *conversation) draft() *session.FuelDraft {
	return session.From(cv.last).Fuel
}

// fillUntilConfirm walks the form with the ticket photo skipped.
func (cv *conversation) fillUntilConfirm() {
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(cv.f.unit.ID, 10))
	cv.say("12.5")
	cv.say("$350.00")
	cv.press(ActionType, string(domain.FuelGas))
	cv.press(ActionSkipPhoto, "")
	cv.say("4521")
	cv.press(ActionPay, "UNPAID")
	require.Equal(cv.t, StateConfirm, cv.state())
}

func TestCaptureScenario(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)

	c := cv.start()
	assert.Equal(t, StateSelectUnit, cv.state())
	assert.True(t, c.Saw("Elige la unidad"))

	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	assert.Equal(t, StateLiters, cv.state())
	assert.Equal(t, "Juan - U1", cv.draft().UnitLabel)

	cv.say("12.5")
	assert.Equal(t, StateAmount, cv.state())
	cv.say("$350.00")
	assert.Equal(t, StateFuelType, cv.state())
	cv.press(ActionType, "GAS")
	assert.Equal(t, StatePhoto, cv.state())
	cv.press(ActionSkipPhoto, "")
	assert.Equal(t, StateSale, cv.state())
	cv.say("4521")
	assert.Equal(t, StatePayment, cv.state())

	c = cv.press(ActionPay, "UNPAID")
	assert.Equal(t, StateConfirm, cv.state())
	assert.True(t, c.Saw("Revisa la carga"))
	assert.True(t, c.Saw("$350.00 MXN"))

	c = cv.press(ActionSave, "")
	assert.Equal(t, StateDateCheck, cv.state())
	assert.True(t, c.Saw("Carga guardada"))
	assert.True(t, c.Saw("10/05/2024"))

	recs := f.records(t, "4521")
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, f.unit.ID, rec.UnitID)
	assert.True(t, rec.Liters.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("350")))
	assert.Equal(t, domain.FuelGas, rec.FuelType)
	assert.Equal(t, domain.Unpaid, rec.PaymentStatus)
	assert.Nil(t, rec.TicketPhotoRef)
	assert.Nil(t, rec.PaymentDate)
	assert.Equal(t, int64(42), rec.CreatedBy)
	assert.True(t, rec.RecordDate.Equal(testNow))
	assert.Equal(t, rec.ID, cv.draft().RecordID)

	require.Len(t, f.announcer.chats, 1)
	assert.Equal(t, int64(-100), f.announcer.chats[0])
	assert.Contains(t, f.announcer.texts[0], "4521")

	c = cv.press(ActionDateKeep, "")
	assert.True(t, session.From(c).IsIdle())
	assert.True(t, c.Saw("Registro completado"))
}

func TestPhotoIsStored(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	cv.say("30")
	cv.say("700")
	cv.press(ActionType, "DIESEL")

	c := cv.say("aquí va")
	assert.Equal(t, StatePhoto, cv.state())
	assert.True(t, c.Saw("Necesito una foto"))

	cv.photo("file-123")
	assert.Equal(t, StateSale, cv.state())
	require.NotNil(t, cv.draft().PhotoRef)
	assert.Equal(t, "file-123", *cv.draft().PhotoRef)
}

func TestPhotoStepSkippedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.res.Settings.Features[domain.FeatureTicketPhoto] = false
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	cv.say("30")
	cv.say("700")
	c := cv.say("gasolina")
	assert.Equal(t, StateSale, cv.state())
	assert.Equal(t, string(domain.FuelGasoil), cv.draft().FuelType)
	assert.False(t, c.Saw("foto"))
}

func TestPricePerLiter(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	cv.say("40")
	cv.press(ActionPrice, "")
	assert.Equal(t, StatePrice, cv.state())

	c := cv.say("23,5")
	assert.Equal(t, StateFuelType, cv.state())
	assert.True(t, c.Saw("$940.00 MXN"))
	d := cv.draft()
	assert.True(t, d.Amount.Equal(decimal.RequireFromString("940")))
	require.NotNil(t, d.PricePerLiter)
	assert.True(t, d.PricePerLiter.Equal(decimal.RequireFromString("23.5")))
}

func TestPriceButtonHiddenWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.res.Settings.Features[domain.FeaturePricePerLiter] = false
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	cv.say("40")

	c := cv.press(ActionPrice, "")
	assert.Equal(t, StateAmount, session.From(c).State)
	require.NotEmpty(t, c.Responses())
	assert.Equal(t, "Esta opción ya no está disponible.", c.Responses()[0].Text)
}

func TestInvalidInputKeepsState(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()

	c := cv.say("U1")
	assert.Equal(t, StateSelectUnit, cv.state())
	assert.True(t, c.Saw("Elige la unidad"))

	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	for _, bad := range []string{"0", "-2", "muchos"} {
		c = cv.say(bad)
		assert.Equal(t, StateLiters, cv.state(), bad)
		assert.True(t, c.Saw("mayor a cero"), bad)
	}
	cv.say("1,5")
	assert.True(t, cv.draft().Liters.Equal(decimal.RequireFromString("1.5")))

	cv.say("100")
	cv.press(ActionType, "GAS")
	cv.press(ActionSkipPhoto, "")
	c = cv.say("TOOLONG1")
	assert.Equal(t, StateSale, cv.state())
	assert.True(t, c.Saw("de 1 a 6"))
	cv.say("a1-2")
	assert.Equal(t, StatePayment, cv.state())
	assert.Equal(t, "A1-2", cv.draft().SaleNumber)
}

func TestQuantitiesRoundingToZeroAreRejected(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))

	c := cv.say("0,0001")
	assert.Equal(t, StateLiters, cv.state())
	assert.True(t, c.Saw("mayor a cero"))
	assert.True(t, cv.draft().Liters.IsZero())

	cv.say("12.345")
	assert.Equal(t, StateAmount, cv.state())
	assert.True(t, cv.draft().Liters.Equal(decimal.RequireFromString("12.35")))

	cv.say("0.004")
	assert.Equal(t, StateAmount, cv.state())
	assert.True(t, cv.draft().Amount.IsZero())

	cv.press(ActionPrice, "")
	c = cv.say("0.0001")
	assert.Equal(t, StatePrice, cv.state())
	assert.True(t, c.Saw("mayor a cero"))
	assert.Nil(t, cv.draft().PricePerLiter)
}

func TestComputedAmountMustBePositive(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	cv.say("0.1")
	cv.press(ActionPrice, "")

	c := cv.say("0.01")
	assert.Equal(t, StatePrice, cv.state())
	assert.True(t, c.Saw("queda en cero"))
	assert.Nil(t, cv.draft().PricePerLiter)
	assert.True(t, cv.draft().Amount.IsZero())

	cv.say("23.5")
	assert.Equal(t, StateFuelType, cv.state())
	assert.True(t, cv.draft().Amount.Equal(decimal.RequireFromString("2.35")))
}

func TestFailedSaveKeepsConfirmation(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.fillUntilConfirm()

	f.st.insertErr = errors.New("connection reset")
	c := cv.press(ActionSave, "")
	assert.Equal(t, StateConfirm, cv.state())
	assert.True(t, c.Saw("No se pudo guardar la carga"))
	assert.Equal(t, "4521", cv.draft().SaleNumber)
	assert.Empty(t, f.records(t, "4521"))

	f.st.insertErr = nil
	cv.press(ActionSave, "")
	assert.Equal(t, StateDateCheck, cv.state())
	assert.Len(t, f.records(t, "4521"), 1)
}

func TestConfirmByText(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.fillUntilConfirm()
	c := cv.say("no")
	assert.True(t, session.From(c).IsIdle())
	assert.True(t, c.Saw("Carga cancelada"))
	assert.Empty(t, f.records(t, "4521"))

	cv.fillUntilConfirm()
	cv.say("sí")
	assert.Equal(t, StateDateCheck, cv.state())
	assert.Len(t, f.records(t, "4521"), 1)
}

func TestRelativeDateShortcut(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.fillUntilConfirm()
	cv.press(ActionSave, "")
	cv.press(ActionDateChange, "")
	assert.Equal(t, StateDateSelect, cv.state())

	c := cv.press(ActionDateDays, "1")
	assert.True(t, session.From(c).IsIdle())
	assert.True(t, c.Saw("09/05/2024"))

	rec := f.records(t, "4521")[0]
	assert.True(t, rec.RecordDate.Equal(time.Date(2024, 5, 9, 12, 0, 0, 0, testLoc)), rec.RecordDate)
}

func TestCustomDateWindow(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.fillUntilConfirm()
	cv.press(ActionSave, "")
	cv.say("no")
	cv.press(ActionDateCustom, "")
	assert.Equal(t, StateDateCustom, cv.state())

	for _, bad := range []string{"09/04/2024", "11/05/2024", "ayer"} {
		cv.say(bad)
		assert.Equal(t, StateDateCustom, cv.state(), bad)
	}
	c := cv.say("10/04/2024")
	assert.True(t, session.From(c).IsIdle())

	rec := f.records(t, "4521")[0]
	assert.True(t, rec.RecordDate.Equal(time.Date(2024, 4, 10, 12, 0, 0, 0, testLoc)), rec.RecordDate)
}

func TestDateCorrectionIsBestEffort(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.fillUntilConfirm()
	cv.press(ActionSave, "")
	cv.press(ActionDateChange, "")

	f.st.redateErr = errors.New("timeout")
	c := cv.press(ActionDateDays, "3")
	assert.True(t, session.From(c).IsIdle())
	assert.True(t, c.Saw("No pude cambiar la fecha"))
	assert.True(t, f.records(t, "4521")[0].RecordDate.Equal(testNow))
}

func TestDateStepSkippedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.res.Settings.Features[domain.FeatureDateCorrection] = false
	cv := newConversation(t, f)
	cv.fillUntilConfirm()
	c := cv.press(ActionSave, "")
	assert.True(t, session.From(c).IsIdle())
	assert.Len(t, f.records(t, "4521"), 1)
}

func TestStaleSaveIsIgnored(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))

	c := cv.press(ActionSave, "")
	assert.Equal(t, StateLiters, session.From(c).State)
	assert.Empty(t, c.Sent())
	assert.Empty(t, f.records(t, "4521"))
}

func TestStartNeedsUnitsAndGroup(t *testing.T) {
	f := newFixture(t)
	f.res.Tenant.ID = "t2"
	f.res.Settings.TenantID = "t2"
	cv := newConversation(t, f)
	c := cv.start()
	assert.True(t, session.From(c).IsIdle())
	assert.True(t, c.Saw("No hay unidades"))

	f2 := newFixture(t)
	cv2 := newConversation(t, f2)
	cv2.chat = teletest.Chat(42, tele.ChatPrivate)
	c = cv2.start()
	assert.True(t, session.From(c).IsIdle())
	assert.True(t, c.Saw("dentro del grupo"))
}

func TestCancelDropsDraft(t *testing.T) {
	f := newFixture(t)
	cv := newConversation(t, f)
	cv.start()
	cv.press(ActionUnit, strconv.FormatInt(f.unit.ID, 10))
	cv.say("20")

	c := cv.next(teletest.Callback(cv.chat, cv.user, workflow.ActionCancel, ""))
	require.NoError(t, cv.engine.Cancel(c))
	s := session.From(c)
	assert.True(t, s.IsIdle())
	assert.Nil(t, s.Fuel)
}
