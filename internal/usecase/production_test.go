package usecase

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booksoul/internal/domain"
	"booksoul/internal/repository/memstore"
)

func TestCreateBook_DraftWithOneStoryWriterJob(t *testing.T) {
	store := memstore.New()
	p := newTestProduction(t, store, testNow)

	book, err := p.CreateBook(context.Background(), CreateBookInput{ConversationID: "c1", ChildName: "Arsen", Theme: "маленький пилот"})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^BKS-\d{8}-\d{6}$`), book.ID)
	require.Equal(t, "BKS-20260301-123045", book.ID)
	require.Equal(t, domain.StageDraft, book.Status)
	require.Equal(t, "История для Arsen", book.Title)
	require.Equal(t, "ru", book.Language)

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, domain.JobStoryWriter, jobs[0].Type)
	require.Equal(t, domain.JobPending, jobs[0].Status)
	require.Equal(t, book.ID, jobs[0].SubjectID)

	stored, err := p.Book(context.Background(), book.ID)
	require.NoError(t, err)
	require.Equal(t, "c1", stored.ConversationID)
}

func TestCreateBook_SameSecondGetsNextID(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)

	first, err := p.CreateBook(context.Background(), CreateBookInput{ChildName: "A", Theme: "t"})
	require.NoError(t, err)
	second, err := p.CreateBook(context.Background(), CreateBookInput{ChildName: "B", Theme: "t"})
	require.NoError(t, err)

	require.Equal(t, "BKS-20260301-123045", first.ID)
	require.Equal(t, "BKS-20260301-123046", second.ID)
	require.Less(t, first.ID, second.ID)
}

func TestCreateBook_RequiresChildAndTheme(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)
	_, err := p.CreateBook(context.Background(), CreateBookInput{ChildName: " ", Theme: "t"})
	expectCode(t, err, ErrorValidation, "create_book_missing_fields")
}

func TestGetStatus_UnknownBook(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)

	res := p.GetStatus(context.Background(), "BKS-19990101-000000")
	require.False(t, res.OK)
	require.Equal(t, ErrorNotFound, res.Code)
	require.Contains(t, res.Message, "не найдена")
	require.Nil(t, res.Info)
}

func TestRegisterScene_RoundTrip(t *testing.T) {
	store := memstore.New()
	p := newTestProduction(t, store, testNow)
	ctx := context.Background()
	book, err := p.CreateBook(ctx, CreateBookInput{ChildName: "Arsen", Theme: "space"})
	require.NoError(t, err)

	scene, err := p.RegisterScene(ctx, RegisterSceneInput{BookID: book.ID, Page: 1, Text: "Жил-был пилот", PromptMain: "pilot", PromptBackground: "sky"})
	require.NoError(t, err)
	require.Equal(t, "scene_001", scene.SceneID)

	res := p.GetStatus(ctx, book.ID)
	require.True(t, res.OK)
	require.Equal(t, 1, res.Info.ScenesCount)
	require.Zero(t, res.Info.ScenesReady)
	require.Equal(t, []SceneSummary{{SceneID: "scene_001", Page: 1, Status: domain.ScenePending}}, res.Info.Scenes)
	require.Contains(t, res.Message, book.ID)

	var sceneJobs int
	for _, j := range store.Jobs() {
		if j.Type == domain.JobSceneGeneration {
			sceneJobs++
			require.Equal(t, domain.JobPending, j.Status)
		}
	}
	require.Equal(t, 1, sceneJobs)
}

func TestRegisterScene_SamePageMergesIntoOneScene(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)
	ctx := context.Background()
	book, err := p.CreateBook(ctx, CreateBookInput{ChildName: "Arsen", Theme: "space"})
	require.NoError(t, err)

	_, err = p.RegisterScene(ctx, RegisterSceneInput{BookID: book.ID, Page: 2, Text: "v1"})
	require.NoError(t, err)
	require.NoError(t, p.AttachSceneImage(ctx, book.ID, 2, "https://img/2.png", domain.SceneApproved))
	_, err = p.RegisterScene(ctx, RegisterSceneInput{BookID: book.ID, Page: 2, Text: "v2"})
	require.NoError(t, err)

	res := p.GetStatus(ctx, book.ID)
	require.Equal(t, 1, res.Info.ScenesCount)
	require.Equal(t, domain.SceneApproved, res.Info.Scenes[0].Status)
	require.True(t, res.Info.Scenes[0].HasImage)
}

func TestRegisterScene_Errors(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)
	ctx := context.Background()

	_, err := p.RegisterScene(ctx, RegisterSceneInput{BookID: "BKS-1", Page: 0})
	expectCode(t, err, ErrorValidation, "scene_page_out_of_range")

	_, err = p.RegisterScene(ctx, RegisterSceneInput{BookID: "BKS-1", Page: 1})
	expectCode(t, err, ErrorNotFound, "register_scene_failed")

	err = p.AttachSceneImage(ctx, "BKS-1", 1, "u", "done")
	expectCode(t, err, ErrorValidation, "unknown_scene_status")
}

func TestAdvance_Policies(t *testing.T) {
	store := memstore.New()
	p := newTestProduction(t, store, testNow)
	ctx := context.Background()
	book, err := p.CreateBook(ctx, CreateBookInput{ChildName: "Arsen", Theme: "space"})
	require.NoError(t, err)

	got, err := p.Advance(ctx, book.ID, domain.StageReady)
	require.NoError(t, err)
	require.Equal(t, domain.StageReady, got.Status)

	got, err = p.Advance(ctx, book.ID, domain.StageWriting)
	require.NoError(t, err)
	require.Equal(t, domain.StageWriting, got.Status)

	_, err = p.Advance(ctx, book.ID, domain.Stage("printing"))
	expectCode(t, err, ErrorValidation, "unknown_stage")

	_, err = p.Advance(ctx, "BKS-missing", domain.StageCover)
	expectCode(t, err, ErrorNotFound, "")

	p.policy = ForwardOnlyStages{}
	_, err = p.Advance(ctx, book.ID, domain.StageDraft)
	expectCode(t, err, ErrorConflict, "stage_regression")

	got, err = p.Advance(ctx, book.ID, domain.StageLayout)
	require.NoError(t, err)
	require.Equal(t, domain.StageLayout, got.Status)
}

func TestStagePolicyByName(t *testing.T) {
	pol, err := StagePolicyByName("")
	require.NoError(t, err)
	require.IsType(t, PermissiveStages{}, pol)

	pol, err = StagePolicyByName("Forward_Only")
	require.NoError(t, err)
	require.IsType(t, ForwardOnlyStages{}, pol)

	_, err = StagePolicyByName("strict")
	require.Error(t, err)

	require.NoError(t, ForwardOnlyStages{}.Allow(domain.StageCover, domain.StageCover))
	require.NoError(t, PermissiveStages{}.Allow(domain.StageReady, domain.StageDraft))
}

func TestAttachAssets_RecordAuditJobs(t *testing.T) {
	store := memstore.New()
	p := newTestProduction(t, store, testNow)
	ctx := context.Background()
	book, err := p.CreateBook(ctx, CreateBookInput{ChildName: "Arsen", Theme: "space"})
	require.NoError(t, err)

	require.NoError(t, p.AttachCover(ctx, book.ID, "https://cdn/cover.png"))
	require.NoError(t, p.AttachPdf(ctx, book.ID, "https://cdn/book.pdf"))

	got, err := p.Book(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/cover.png", got.CoverURL)
	require.Equal(t, "https://cdn/book.pdf", got.PdfURL)

	refs := map[domain.JobType]string{}
	for _, j := range store.Jobs() {
		if j.Type == domain.JobCover || j.Type == domain.JobLayout {
			require.Equal(t, domain.JobDone, j.Status)
			refs[j.Type] = j.ResultRef
		}
	}
	require.Equal(t, map[domain.JobType]string{
		domain.JobCover:  "https://cdn/cover.png",
		domain.JobLayout: "https://cdn/book.pdf",
	}, refs)

	err = p.AttachCover(ctx, book.ID, " ")
	expectCode(t, err, ErrorValidation, "empty_asset_url")
	err = p.AttachPdf(ctx, "BKS-missing", "https://x")
	expectCode(t, err, ErrorNotFound, "attach_asset_failed")
}

func TestAddFeedback_DoesNotChangeStage(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)
	ctx := context.Background()
	book, err := p.CreateBook(ctx, CreateBookInput{ChildName: "Arsen", Theme: "space"})
	require.NoError(t, err)

	entry, err := p.AddFeedback(ctx, book.ID, "добавь кота", "")
	require.NoError(t, err)
	require.Equal(t, "user", entry.Source)
	require.NotEmpty(t, entry.ID)

	entries, err := p.Feedback(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "добавь кота", entries[0].Comment)

	got, err := p.Book(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StageDraft, got.Status)

	_, err = p.AddFeedback(ctx, "BKS-missing", "x", "user")
	expectCode(t, err, ErrorNotFound, "add_feedback_failed")
}

func TestReplyStatus_ShowsDashForMissingAssets(t *testing.T) {
	msg := replyStatus(BookStatus{Book: domain.Book{ID: "BKS-1", ChildName: "A", Theme: "t", Status: domain.StageDrawing, CreatedAt: time.Now()}})
	require.Contains(t, msg, "drawing (рисуем сцены)")
	require.Contains(t, msg, "PDF: —")
	require.Contains(t, msg, "Сцен: 0, готово: 0")
}

func TestGetStatus_PendingScenesAreNotReady(t *testing.T) {
	p := newTestProduction(t, memstore.New(), testNow)
	ctx := context.Background()
	book, err := p.CreateBook(ctx, CreateBookInput{ChildName: "Arsen", Theme: "space"})
	require.NoError(t, err)

	for page := 1; page <= 3; page++ {
		_, err = p.RegisterScene(ctx, RegisterSceneInput{BookID: book.ID, Page: page, Text: "scene"})
		require.NoError(t, err)
	}
	require.NoError(t, p.AttachSceneImage(ctx, book.ID, 1, "https://img/1.png", domain.SceneApproved))
	require.NoError(t, p.AttachSceneImage(ctx, book.ID, 2, "https://img/2.png", domain.ScenePending))

	res := p.GetStatus(ctx, book.ID)
	require.True(t, res.OK)
	require.Equal(t, 3, res.Info.ScenesCount)
	require.Equal(t, 1, res.Info.ScenesReady)
	require.Contains(t, res.Message, "Сцен: 3, готово: 1")
}
