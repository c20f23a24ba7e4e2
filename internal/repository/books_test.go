package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"booksoul/internal/domain"
)

func draftBook() domain.Book {
	return domain.Book{
		ID:             "BKS-20260301-120000",
		ConversationID: "777",
		ChildName:      "Arsen",
		Theme:          "маленький пилот",
		Title:          "История для Arsen",
		Language:       "ru",
		Status:         domain.StageDraft,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestCreateBook_WritesBookAndJobTogether(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.CreateBook(context.Background(), draftBook(), pendingJob("j1")))

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)
	require.Equal(t, "BOOK#BKS-20260301-120000", sAttr(items[0].Put.Item, "PK"))
	require.Equal(t, "draft", sAttr(items[0].Put.Item, "status"))
	require.Equal(t, "JOB#j1", sAttr(items[1].Put.Item, "PK"))
	require.Equal(t, condItemAbsent, *items[0].Put.ConditionExpression)
	require.Equal(t, condItemAbsent, *items[1].Put.ConditionExpression)
}

func TestCreateBook_IDTaken(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: txCancelled(2, 0)})
	err := c.CreateBook(context.Background(), draftBook(), pendingJob("j1"))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestGetBook_RoundTrip(t *testing.T) {
	b := draftBook()
	b.CoverURL = "https://cdn/cover.png"
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: bookItem(b)}})
	got, err := c.GetBook(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ChildName, got.ChildName)
	require.Equal(t, domain.StageDraft, got.Status)
	require.Equal(t, b.CoverURL, got.CoverURL)
	require.Empty(t, got.PdfURL)
}

func TestGetBook_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, err := c.GetBook(context.Background(), "BKS-00000000-000000")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetBookStage(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.SetBookStage(context.Background(), "b1", domain.StageDraft, domain.StageWriting, testNow))
	require.Equal(t, condBookStage, *db.lastUpdateInput.ConditionExpression)
	require.Equal(t, "draft", sAttr(db.lastUpdateInput.ExpressionAttributeValues, ":from"))
	require.Equal(t, "writing", sAttr(db.lastUpdateInput.ExpressionAttributeValues, ":to"))
}

func TestSetBookStage_ConflictAndMissing(t *testing.T) {
	db := &fakeDynamo{updateErr: ccfErr(bookItem(draftBook()))}
	c := mustNewClient(t, db)
	err := c.SetBookStage(context.Background(), "b1", domain.StageWriting, domain.StageDrawing, testNow)
	require.ErrorIs(t, err, domain.ErrConflict)

	db.updateErr = ccfErr(nil)
	err = c.SetBookStage(context.Background(), "b1", domain.StageWriting, domain.StageDrawing, testNow)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachBookAsset(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	audit := pendingJob("j2")
	audit.Type = domain.JobCover
	audit.Status = domain.JobDone
	audit.ResultRef = "https://cdn/cover.png"

	require.NoError(t, c.AttachBookAsset(context.Background(), "b1", domain.AssetCover, audit.ResultRef, audit, testNow))
	items := db.lastTxInput.TransactItems
	require.Equal(t, "coverUrl", items[0].Update.ExpressionAttributeNames["#asset"])
	require.Equal(t, "JOBSTATUS#done", sAttr(items[1].Put.Item, "GSI1PK"))
}

func TestAttachBookAsset_MissingBook(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: txCancelled(2, 0)})
	err := c.AttachBookAsset(context.Background(), "b1", domain.AssetPdf, "u", pendingJob("j2"), testNow)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPutScene(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	scene := domain.Scene{BookID: "b1", SceneID: domain.SceneID(1), Page: 1, Text: "t", UpdatedAt: testNow}
	require.NoError(t, c.PutScene(context.Background(), scene, pendingJob("j3")))

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[0].ConditionCheck)
	require.Equal(t, "SCENE#scene_001", sAttr(items[1].Update.Key, "SK"))
	require.Contains(t, *items[1].Update.UpdateExpression, "if_not_exists(#status, :pending)")
}

func TestPutScene_MissingBook(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: txCancelled(3, 0)})
	err := c.PutScene(context.Background(), domain.Scene{BookID: "b1", SceneID: "scene_001", Page: 1}, pendingJob("j3"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPutScene_OtherFailurePassesThrough(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("ThrottlingException")})
	err := c.PutScene(context.Background(), domain.Scene{BookID: "b1", SceneID: "scene_001", Page: 1}, pendingJob("j3"))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNotFound)
	require.Contains(t, err.Error(), "ThrottlingException")
}

func TestSetSceneImage(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.SetSceneImage(context.Background(), "b1", "scene_001", "https://img", "", testNow))
	require.Nil(t, db.lastUpdateInput.ExpressionAttributeNames)

	require.NoError(t, c.SetSceneImage(context.Background(), "b1", "scene_001", "https://img", domain.SceneApproved, testNow))
	require.Contains(t, *db.lastUpdateInput.UpdateExpression, "#status = :status")

	db.updateErr = ccfErr(nil)
	err := c.SetSceneImage(context.Background(), "b1", "scene_404", "https://img", "", testNow)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListScenes_OrderedByPage(t *testing.T) {
	scene := func(page int) map[string]types.AttributeValue {
		item := key(bookPK("b1"), sceneSK(domain.SceneID(page)))
		item["sceneId"] = strVal(domain.SceneID(page))
		item["page"] = numVal(int64(page))
		item["status"] = strVal("pending")
		return item
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{scene(2), scene(1)}},
	}}
	c := mustNewClient(t, db)
	scenes, err := c.ListScenes(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	require.Equal(t, 1, scenes[0].Page)
	require.Equal(t, domain.ScenePending, scenes[0].Status)
	require.Equal(t, skScenePrefix, sAttr(db.queryInputs[0].ExpressionAttributeValues, ":prefix"))
}

func TestAppendFeedback(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	entry := domain.FeedbackEntry{ID: "f1", BookID: "b1", Comment: "больше котиков", Source: "user", CreatedAt: testNow}
	require.NoError(t, c.AppendFeedback(context.Background(), entry))
	put := db.lastTxInput.TransactItems[1].Put
	require.Contains(t, sAttr(put.Item, "SK"), "FEEDBACK#")
	require.Equal(t, "больше котиков", sAttr(put.Item, "comment"))

	db.txErr = txCancelled(2, 0)
	require.ErrorIs(t, c.AppendFeedback(context.Background(), entry), domain.ErrNotFound)
}

func TestListFeedback(t *testing.T) {
	item := key(bookPK("b1"), feedbackSK(testNow, "f1"))
	item["feedbackId"] = strVal("f1")
	item["comment"] = strVal("ok")
	item["createdAt"] = millisVal(testNow)
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	entries, err := c.ListFeedback(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ok", entries[0].Comment)
}
