package extractor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"ewintr.nl/scribe/model"
	"ewintr.nl/scribe/progress"
	"ewintr.nl/scribe/storage"
	"ewintr.nl/scribe/transcriber"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type fakeAcquirer struct {
	md          model.VideoMetadata
	probeErr    error
	acquireErr  error
	unavailable bool
	probes      int
	acquires    int
	releases    int
}

func (a *fakeAcquirer) Probe(_ context.Context, _ model.VideoReference) (model.VideoMetadata, error) {
	a.probes++
	if a.probeErr != nil {
		return model.VideoMetadata{}, a.probeErr
	}

	return a.md, nil
}

func (a *fakeAcquirer) Acquire(_ context.Context, _ model.VideoReference) (*model.AudioArtifact, error) {
	a.acquires++
	if a.acquireErr != nil {
		return nil, a.acquireErr
	}

	return model.NewAudioArtifact("/tmp/fake.mp3", a.md.Duration, a.md.Title, func() { a.releases++ }), nil
}

func (a *fakeAcquirer) Available(_ context.Context) bool { return !a.unavailable }

type fakeEngine struct {
	transcript  model.Transcript
	err         error
	unavailable bool
	calls       int
	gotOpts     transcriber.Options
}

func (e *fakeEngine) Transcribe(_ context.Context, _ *model.AudioArtifact, opts transcriber.Options) (model.Transcript, error) {
	e.calls++
	e.gotOpts = opts
	if e.err != nil {
		return model.Transcript{}, e.err
	}

	return e.transcript, nil
}

func (e *fakeEngine) Available(_ context.Context) bool { return !e.unavailable }

type scriptedUsage struct {
	checkUsage storage.Usage
	checkErr   error
	incUsage   storage.Usage
	incErr     error
	checks     int
	incs       int
	lastLimit  int
}

func (s *scriptedUsage) Check(_ context.Context, _ string, limit int) (storage.Usage, error) {
	s.checks++
	s.lastLimit = limit

	return s.checkUsage, s.checkErr
}

func (s *scriptedUsage) Increment(_ context.Context, _ string, limit int) (storage.Usage, error) {
	s.incs++
	s.lastLimit = limit

	return s.incUsage, s.incErr
}

type countingRepo struct {
	storage.ExtractionRepository
	saves int
	last  *model.Extraction
}

func (r *countingRepo) Save(ctx context.Context, extraction *model.Extraction) error {
	r.saves++
	r.last = extraction

	return r.ExtractionRepository.Save(ctx, extraction)
}

type failingRepo struct{}

func (r *failingRepo) Save(_ context.Context, _ *model.Extraction) error {
	return errors.New("disk full")
}

func (r *failingRepo) Find(_ context.Context, _ uuid.UUID) (*model.Extraction, error) {
	return nil, storage.ErrNotFound
}

type collectNotifier struct {
	mu     sync.Mutex
	events []progress.Event
}

func (n *collectNotifier) Publish(ev progress.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, ev)
}

func (n *collectNotifier) stages() []progress.Stage {
	n.mu.Lock()
	defer n.mu.Unlock()

	stages := make([]progress.Stage, 0, len(n.events))
	for _, ev := range n.events {
		stages = append(stages, ev.Stage)
	}

	return stages
}

func sampleTranscript() model.Transcript {
	transcript := model.NewTranscript([]model.TranscriptSegment{
		{Start: 0, End: 4.5, Text: "welcome back"},
		{Start: 4.5, End: 9, Text: "today we build a boat"},
	})
	transcript.Language = "en"
	transcript.Duration = 9

	return transcript
}

func TestExtractGuest(t *testing.T) {
	store := storage.NewMemory()
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Title: "Boat Build", Duration: 213}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

	res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

	if !res.OK() {
		t.Fatalf("exp ok result, got error %+v", res.Err)
	}
	if res.Extraction.Status != model.StatusCompleted {
		t.Errorf("exp status completed, got %s", res.Extraction.Status)
	}
	if res.Extraction.Requester != "" {
		t.Errorf("exp empty requester, got %q", res.Extraction.Requester)
	}
	if res.Extraction.Metadata.Title != "Boat Build" {
		t.Errorf("exp probed metadata on the record, got %+v", res.Extraction.Metadata)
	}
	if res.Extraction.Transcript.Text != "welcome back today we build a boat" {
		t.Errorf("exp joined transcript text, got %q", res.Extraction.Transcript.Text)
	}
	if engine.gotOpts.MaxDuration != DefaultPolicy().GuestMaxDuration {
		t.Errorf("exp guest cap forwarded to the engine, got %v", engine.gotOpts.MaxDuration)
	}
	if engine.gotOpts.Language != "" {
		t.Errorf("exp no language for guests, got %q", engine.gotOpts.Language)
	}
	if acquirer.releases != 1 {
		t.Errorf("exp artifact released once, got %d", acquirer.releases)
	}
	if res.Guest == nil {
		t.Fatal("exp guest usage info")
	}
	if res.Guest.Remaining != DefaultPolicy().GuestDailyLimit-1 {
		t.Errorf("exp remaining %d, got %d", DefaultPolicy().GuestDailyLimit-1, res.Guest.Remaining)
	}

	stored, err := store.Find(context.Background(), res.Extraction.ID)
	if err != nil {
		t.Fatalf("exp stored extraction, got %v", err)
	}
	if stored.Status != model.StatusCompleted {
		t.Errorf("exp stored status completed, got %s", stored.Status)
	}

	usage, err := store.Check(context.Background(), "ip:203.0.113.7", DefaultPolicy().GuestDailyLimit)
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if usage.Remaining != DefaultPolicy().GuestDailyLimit-1 {
		t.Errorf("exp one quota unit consumed, got remaining %d", usage.Remaining)
	}
}

func TestExtractGuestDurationCap(t *testing.T) {
	store := storage.NewMemory()
	repo := &countingRepo{ExtractionRepository: store}
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Title: "Long One", Duration: 700}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: repo}, DefaultPolicy(), discard)

	res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

	if res.OK() {
		t.Fatal("exp error result")
	}
	if res.Err.Kind != model.KindDurationExceeded {
		t.Errorf("exp kind duration_exceeded, got %s", res.Err.Kind)
	}
	if res.Err.Details["duration"] != 700.0 {
		t.Errorf("exp actual duration in details, got %v", res.Err.Details["duration"])
	}
	if res.Err.Details["limit"] != 600.0 {
		t.Errorf("exp cap in details, got %v", res.Err.Details["limit"])
	}
	if acquirer.acquires != 0 {
		t.Errorf("exp no download, got %d", acquirer.acquires)
	}
	if engine.calls != 0 {
		t.Errorf("exp no transcription, got %d", engine.calls)
	}
	if repo.saves != 0 {
		t.Errorf("exp nothing persisted, got %d saves", repo.saves)
	}

	usage, err := store.Check(context.Background(), "ip:203.0.113.7", DefaultPolicy().GuestDailyLimit)
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if usage.Remaining != DefaultPolicy().GuestDailyLimit {
		t.Errorf("exp quota untouched, got remaining %d", usage.Remaining)
	}
}

func TestExtractGuestQuotaExhausted(t *testing.T) {
	store := storage.NewMemory()
	for i := 0; i < DefaultPolicy().GuestDailyLimit; i++ {
		if _, err := store.Increment(context.Background(), "ip:203.0.113.7", DefaultPolicy().GuestDailyLimit); err != nil {
			t.Fatalf("exp no error, got %v", err)
		}
	}
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 100}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

	res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

	if res.OK() {
		t.Fatal("exp error result")
	}
	if res.Err.Kind != model.KindQuotaExceeded {
		t.Errorf("exp kind quota_exceeded, got %s", res.Err.Kind)
	}
	if res.Err.Details["remaining"] != 0 {
		t.Errorf("exp remaining 0 in details, got %v", res.Err.Details["remaining"])
	}
	if _, ok := res.Err.Details["reset_at"]; !ok {
		t.Error("exp reset time in details")
	}
	if acquirer.probes != 0 {
		t.Errorf("exp no probe after rejection, got %d", acquirer.probes)
	}
}

func TestExtractGuestFallback(t *testing.T) {
	t.Run("transcription failure", func(t *testing.T) {
		store := storage.NewMemory()
		acquirer := &fakeAcquirer{md: model.VideoMetadata{Title: "Boat Build", Duration: 213}}
		engine := &fakeEngine{err: model.NewError(model.KindInvalidCredentials, "the engine rejected the api key")}
		o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

		res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

		if !res.OK() {
			t.Fatalf("exp ok result with placeholder, got error %+v", res.Err)
		}
		if res.Extraction.Status != model.StatusFailed {
			t.Errorf("exp status failed, got %s", res.Extraction.Status)
		}
		if res.Extraction.ErrorMessage != "the engine rejected the api key" {
			t.Errorf("exp underlying message recorded, got %q", res.Extraction.ErrorMessage)
		}
		if res.Extraction.Transcript.Text != "extraction failed: the engine rejected the api key" {
			t.Errorf("exp placeholder text, got %q", res.Extraction.Transcript.Text)
		}
		if len(res.Extraction.Transcript.Segments) != 1 {
			t.Fatalf("exp single placeholder segment, got %d", len(res.Extraction.Transcript.Segments))
		}
		if end := res.Extraction.Transcript.Segments[0].End; end != 213 {
			t.Errorf("exp placeholder end at video duration, got %v", end)
		}
		if acquirer.releases != 1 {
			t.Errorf("exp artifact released once, got %d", acquirer.releases)
		}

		stored, err := store.Find(context.Background(), res.Extraction.ID)
		if err != nil {
			t.Fatalf("exp stored extraction, got %v", err)
		}
		if stored.Status != model.StatusFailed {
			t.Errorf("exp stored status failed, got %s", stored.Status)
		}

		usage, err := store.Check(context.Background(), "ip:203.0.113.7", DefaultPolicy().GuestDailyLimit)
		if err != nil {
			t.Fatalf("exp no error, got %v", err)
		}
		if usage.Remaining != DefaultPolicy().GuestDailyLimit {
			t.Errorf("exp failed run to cost no quota, got remaining %d", usage.Remaining)
		}
	})

	t.Run("download failure", func(t *testing.T) {
		store := storage.NewMemory()
		acquirer := &fakeAcquirer{
			md:         model.VideoMetadata{Duration: 213},
			acquireErr: model.NewError(model.KindDownloadFailed, "download audio: ERROR: Video unavailable"),
		}
		engine := &fakeEngine{transcript: sampleTranscript()}
		o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

		res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

		if !res.OK() {
			t.Fatalf("exp ok result with placeholder, got error %+v", res.Err)
		}
		if res.Extraction.Status != model.StatusFailed {
			t.Errorf("exp status failed, got %s", res.Extraction.Status)
		}
		if !strings.Contains(res.Extraction.Transcript.Text, "Video unavailable") {
			t.Errorf("exp underlying message in placeholder, got %q", res.Extraction.Transcript.Text)
		}
		if engine.calls != 0 {
			t.Errorf("exp no transcription, got %d", engine.calls)
		}
	})

	t.Run("probe failure", func(t *testing.T) {
		store := storage.NewMemory()
		acquirer := &fakeAcquirer{probeErr: model.NewError(model.KindTimeout, "fetch metadata timed out")}
		engine := &fakeEngine{transcript: sampleTranscript()}
		o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

		res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

		if !res.OK() {
			t.Fatalf("exp ok result with placeholder, got error %+v", res.Err)
		}
		if res.Extraction.Transcript.Text != "extraction failed: fetch metadata timed out" {
			t.Errorf("exp placeholder text, got %q", res.Extraction.Transcript.Text)
		}
		if end := res.Extraction.Transcript.Segments[0].End; end != 0 {
			t.Errorf("exp placeholder end 0 without metadata, got %v", end)
		}
	})
}

func TestExtractGuestQuotaRace(t *testing.T) {
	// the pre-check passes, but another run takes the last slot before the
	// increment
	usage := &scriptedUsage{
		checkUsage: storage.Usage{CanProceed: true, Remaining: 1},
		incUsage:   storage.Usage{CanProceed: false, Remaining: 0},
		incErr:     storage.ErrLimitReached,
	}
	store := storage.NewMemory()
	repo := &countingRepo{ExtractionRepository: store}
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 100}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: usage, Repo: repo}, DefaultPolicy(), discard)

	res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

	if res.OK() {
		t.Fatal("exp error result")
	}
	if res.Err.Kind != model.KindQuotaExceeded {
		t.Errorf("exp kind quota_exceeded, got %s", res.Err.Kind)
	}
	if acquirer.releases != 1 {
		t.Errorf("exp artifact released once, got %d", acquirer.releases)
	}
	if repo.saves != 1 {
		t.Fatalf("exp the lost run persisted, got %d saves", repo.saves)
	}
	if repo.last.Status != model.StatusFailed {
		t.Errorf("exp stored status failed, got %s", repo.last.Status)
	}
	if repo.last.Transcript.Text != "" {
		t.Errorf("exp no transcript on the lost run, got %q", repo.last.Transcript.Text)
	}
}

func TestExtractResolveFailure(t *testing.T) {
	for _, tc := range []struct {
		name   string
		rawURL string
		kind   model.Kind
	}{
		{name: "invalid url", rawURL: "not a url", kind: model.KindInvalidURL},
		{name: "unsupported platform", rawURL: "https://vimeo.com/123456", kind: model.KindUnsupportedPlatform},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := storage.NewMemory()
			repo := &countingRepo{ExtractionRepository: store}
			acquirer := &fakeAcquirer{}
			o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: &fakeEngine{}, Usage: store, Repo: repo}, DefaultPolicy(), discard)

			res := o.ExtractGuest(context.Background(), tc.rawURL, "203.0.113.7")

			if res.OK() {
				t.Fatal("exp error result")
			}
			if res.Err.Kind != tc.kind {
				t.Errorf("exp kind %s, got %s", tc.kind, res.Err.Kind)
			}
			if acquirer.probes != 0 {
				t.Errorf("exp no probe, got %d", acquirer.probes)
			}
			if repo.saves != 0 {
				t.Errorf("exp nothing persisted, got %d saves", repo.saves)
			}
		})
	}
}

func TestExtractUsageStoreDown(t *testing.T) {
	usage := &scriptedUsage{checkErr: errors.New("connection refused")}
	o := NewOrchestrator(Dependencies{Acquirer: &fakeAcquirer{}, Engine: &fakeEngine{}, Usage: usage, Repo: storage.NewMemory()}, DefaultPolicy(), discard)

	res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

	if res.OK() {
		t.Fatal("exp error result")
	}
	if res.Err.Kind != model.KindDependencyUnavailable {
		t.Errorf("exp kind dependency_unavailable, got %s", res.Err.Kind)
	}
}

func TestExtractAuthenticated(t *testing.T) {
	store := storage.NewMemory()
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Title: "Long One", Duration: 700}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

	res := o.ExtractAuthenticated(context.Background(), watchURL, "user-1", "free", "nl")

	if !res.OK() {
		t.Fatalf("exp ok result, got error %+v", res.Err)
	}
	if res.Extraction.Requester != "user-1" {
		t.Errorf("exp requester user-1, got %q", res.Extraction.Requester)
	}
	if res.Guest != nil {
		t.Error("exp no guest info on authenticated runs")
	}
	if engine.gotOpts.MaxDuration != 0 {
		t.Errorf("exp no duration cap, got %v", engine.gotOpts.MaxDuration)
	}
	if engine.gotOpts.Language != "nl" {
		t.Errorf("exp language forwarded, got %q", engine.gotOpts.Language)
	}

	usage, err := store.Check(context.Background(), "user:user-1", DefaultPolicy().UserDailyLimit)
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if usage.Remaining != DefaultPolicy().UserDailyLimit-1 {
		t.Errorf("exp one quota unit consumed, got remaining %d", usage.Remaining)
	}
}

func TestExtractAuthenticatedUnlimitedTier(t *testing.T) {
	usage := &scriptedUsage{incUsage: storage.Usage{CanProceed: true, Remaining: -1}}
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 5000}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: usage, Repo: storage.NewMemory()}, DefaultPolicy(), discard)

	res := o.ExtractAuthenticated(context.Background(), watchURL, "user-1", "pro", "")

	if !res.OK() {
		t.Fatalf("exp ok result, got error %+v", res.Err)
	}
	if usage.checks != 0 {
		t.Errorf("exp no limit check on an unlimited tier, got %d", usage.checks)
	}
	if usage.incs != 1 {
		t.Errorf("exp usage still recorded, got %d increments", usage.incs)
	}
	if usage.lastLimit != 0 {
		t.Errorf("exp unlimited increment, got limit %d", usage.lastLimit)
	}
}

func TestExtractSaveFailure(t *testing.T) {
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 100}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: storage.NewMemory(), Repo: &failingRepo{}}, DefaultPolicy(), discard)

	res := o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

	if !res.OK() {
		t.Fatalf("exp ok result despite save failure, got error %+v", res.Err)
	}
	if res.Extraction.Status != model.StatusCompleted {
		t.Errorf("exp status completed, got %s", res.Extraction.Status)
	}
	if got := o.Metrics().SaveErrors.Load(); got != 1 {
		t.Errorf("exp 1 save error counted, got %d", got)
	}
}

func TestExtractStages(t *testing.T) {
	t.Run("completed run", func(t *testing.T) {
		notifier := &collectNotifier{}
		store := storage.NewMemory()
		acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 100}}
		engine := &fakeEngine{transcript: sampleTranscript()}
		o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store, Notifier: notifier}, DefaultPolicy(), discard)

		o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

		exp := []progress.Stage{
			progress.StageValidating,
			progress.StagePolicyCheck,
			progress.StageAcquiring,
			progress.StageAcquiring,
			progress.StageTranscribing,
			progress.StageFinalizing,
			progress.StageCompleted,
		}
		got := notifier.stages()
		if len(got) != len(exp) {
			t.Fatalf("exp %d stage events, got %d: %v", len(exp), len(got), got)
		}
		for i, stage := range exp {
			if got[i] != stage {
				t.Errorf("exp stage %d to be %s, got %s", i, stage, got[i])
			}
		}
	})

	t.Run("failed run ends with failed", func(t *testing.T) {
		notifier := &collectNotifier{}
		store := storage.NewMemory()
		acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 100}}
		engine := &fakeEngine{err: model.NewError(model.KindTimeout, "transcription timed out")}
		o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store, Notifier: notifier}, DefaultPolicy(), discard)

		o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")

		got := notifier.stages()
		if len(got) == 0 || got[len(got)-1] != progress.StageFailed {
			t.Fatalf("exp final stage failed, got %v", got)
		}
	})
}

func TestReady(t *testing.T) {
	store := storage.NewMemory()
	o := NewOrchestrator(Dependencies{
		Acquirer: &fakeAcquirer{},
		Engine:   &fakeEngine{unavailable: true},
		Usage:    store,
		Repo:     store,
	}, DefaultPolicy(), discard)

	ready := o.Ready(context.Background())

	if !ready["downloader"] {
		t.Error("exp downloader to be available")
	}
	if ready["transcription"] {
		t.Error("exp transcription to be unavailable")
	}
}

func TestPolicyLimitFor(t *testing.T) {
	policy := DefaultPolicy()
	for _, tc := range []struct {
		tier string
		exp  int
	}{
		{tier: "pro", exp: 0},
		{tier: "free", exp: policy.UserDailyLimit},
		{tier: "", exp: policy.UserDailyLimit},
	} {
		if got := policy.LimitFor(tc.tier); got != tc.exp {
			t.Errorf("exp limit %d for tier %q, got %d", tc.exp, tc.tier, got)
		}
	}
}

func TestMetricsFormat(t *testing.T) {
	store := storage.NewMemory()
	acquirer := &fakeAcquirer{md: model.VideoMetadata{Duration: 100}}
	engine := &fakeEngine{transcript: sampleTranscript()}
	o := NewOrchestrator(Dependencies{Acquirer: acquirer, Engine: engine, Usage: store, Repo: store}, DefaultPolicy(), discard)

	o.ExtractGuest(context.Background(), watchURL, "203.0.113.7")
	o.ExtractGuest(context.Background(), "not a url", "203.0.113.7")

	out := o.Metrics().Format()
	for _, line := range []string{
		"extractions_started 2\n",
		"extractions_completed 1\n",
		"extractions_rejected 1\n",
		"downloads 1\n",
		"transcriptions 1\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("exp metrics output to contain %q, got:\n%s", line, out)
		}
	}
	if !strings.HasPrefix(out, "extractions_started") {
		t.Errorf("exp fixed ordering, got:\n%s", out)
	}
}
