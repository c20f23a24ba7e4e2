package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booksoul/internal/domain"
)

const condBookStage = "attribute_exists(PK) AND #status = :from"

// CreateBook writes a new book together with the first job of its pipeline in
// one transaction. An existing book or job id yields ErrAlreadyExists.
func (c *Client) CreateBook(ctx context.Context, book domain.Book, firstJob domain.Job) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                bookItem(book),
				ConditionExpression: aws.String(condItemAbsent),
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                jobItem(firstJob),
				ConditionExpression: aws.String(condItemAbsent),
			}},
		},
	})
	if conditionFailed(err) {
		return fmt.Errorf("repository: CreateBook %s: %w", book.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("repository: CreateBook: %w", err)
	}
	return nil
}

func (c *Client) GetBook(ctx context.Context, id string) (domain.Book, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(bookPK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("repository: GetBook: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Book{}, fmt.Errorf("repository: GetBook %s: %w", id, domain.ErrNotFound)
	}
	b, err := bookFromItem(out.Item)
	if err != nil {
		return domain.Book{}, fmt.Errorf("repository: GetBook: %w", err)
	}
	return b, nil
}

// SetBookStage moves a book from the stage the caller observed to a new one.
// A missing book yields ErrNotFound; a book whose stage changed since it was
// read yields ErrConflict.
func (c *Client) SetBookStage(ctx context.Context, id string, from, to domain.Stage, at time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(bookPK(id), skMeta),
		UpdateExpression:    aws.String("SET #status = :to, updatedAt = :at"),
		ConditionExpression: aws.String(condBookStage),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": strVal(string(from)),
			":to":   strVal(string(to)),
			":at":   millisVal(at),
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if conditionFailed(err) {
		if len(oldItemOnConditionFailure(err)) == 0 {
			return fmt.Errorf("repository: SetBookStage %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: SetBookStage %s: %w", id, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("repository: SetBookStage: %w", err)
	}
	return nil
}

// AttachBookAsset writes an asset URL on the book and records the audit job in
// the same transaction.
func (c *Client) AttachBookAsset(ctx context.Context, id string, asset domain.BookAsset, url string, auditJob domain.Job, at time.Time) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(c.tableName),
				Key:                 key(bookPK(id), skMeta),
				UpdateExpression:    aws.String("SET #asset = :url, updatedAt = :at"),
				ConditionExpression: aws.String(condItemExists),
				ExpressionAttributeNames: map[string]string{
					"#asset": string(asset),
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":url": strVal(url),
					":at":  millisVal(at),
				},
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                jobItem(auditJob),
				ConditionExpression: aws.String(condItemAbsent),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AttachBookAsset %s: %w", id, txError(err, domain.ErrNotFound, domain.ErrAlreadyExists))
	}
	return nil
}

// PutScene creates or merges the scene for its page and enqueues its
// generation job. Merging keeps the scene's status and image.
func (c *Client) PutScene(ctx context.Context, scene domain.Scene, job domain.Job) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{ConditionCheck: &types.ConditionCheck{
				TableName:           aws.String(c.tableName),
				Key:                 key(bookPK(scene.BookID), skMeta),
				ConditionExpression: aws.String(condItemExists),
			}},
			{Update: &types.Update{
				TableName:        aws.String(c.tableName),
				Key:              key(bookPK(scene.BookID), sceneSK(scene.SceneID)),
				UpdateExpression: aws.String("SET bookId = :book, sceneId = :scene, #page = :page, #text = :text, promptMain = :pm, promptBackground = :pb, #status = if_not_exists(#status, :pending), updatedAt = :at"),
				ExpressionAttributeNames: map[string]string{
					"#page":   "page",
					"#text":   "text",
					"#status": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":book":    strVal(scene.BookID),
					":scene":   strVal(scene.SceneID),
					":page":    numVal(int64(scene.Page)),
					":text":    strVal(scene.Text),
					":pm":      strVal(scene.PromptMain),
					":pb":      strVal(scene.PromptBackground),
					":pending": strVal(string(domain.ScenePending)),
					":at":      millisVal(scene.UpdatedAt),
				},
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                jobItem(job),
				ConditionExpression: aws.String(condItemAbsent),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutScene %s/%s: %w", scene.BookID, scene.SceneID, txError(err, domain.ErrNotFound, nil, domain.ErrAlreadyExists))
	}
	return nil
}

// SetSceneImage attaches an image URL to an existing scene. An empty status
// leaves the scene status unchanged.
func (c *Client) SetSceneImage(ctx context.Context, bookID, sceneID, url string, status domain.SceneStatus, at time.Time) error {
	expr := "SET imageUrl = :url, updatedAt = :at"
	names := map[string]string(nil)
	values := map[string]types.AttributeValue{
		":url": strVal(url),
		":at":  millisVal(at),
	}
	if status != "" {
		expr += ", #status = :status"
		names = map[string]string{"#status": "status"}
		values[":status"] = strVal(string(status))
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(bookPK(bookID), sceneSK(sceneID)),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(condItemExists),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if conditionFailed(err) {
		return fmt.Errorf("repository: SetSceneImage %s/%s: %w", bookID, sceneID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("repository: SetSceneImage: %w", err)
	}
	return nil
}

// ListScenes returns the book's scenes ordered by page.
func (c *Client) ListScenes(ctx context.Context, bookID string) ([]domain.Scene, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strVal(bookPK(bookID)),
			":prefix": strVal(skScenePrefix),
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListScenes: %w", err)
	}
	scenes := make([]domain.Scene, 0, len(items))
	for _, item := range items {
		s, err := sceneFromItem(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListScenes: %w", err)
		}
		scenes = append(scenes, s)
	}
	slices.SortFunc(scenes, func(a, b domain.Scene) int { return a.Page - b.Page })
	return scenes, nil
}

// AppendFeedback adds a feedback entry to an existing book.
func (c *Client) AppendFeedback(ctx context.Context, entry domain.FeedbackEntry) error {
	item := key(bookPK(entry.BookID), feedbackSK(entry.CreatedAt, entry.ID))
	item["feedbackId"] = strVal(entry.ID)
	item["bookId"] = strVal(entry.BookID)
	item["comment"] = strVal(entry.Comment)
	item["source"] = strVal(entry.Source)
	item["createdAt"] = millisVal(entry.CreatedAt)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{ConditionCheck: &types.ConditionCheck{
				TableName:           aws.String(c.tableName),
				Key:                 key(bookPK(entry.BookID), skMeta),
				ConditionExpression: aws.String(condItemExists),
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                item,
				ConditionExpression: aws.String(condItemAbsent),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendFeedback %s: %w", entry.BookID, txError(err, domain.ErrNotFound, domain.ErrAlreadyExists))
	}
	return nil
}

// ListFeedback returns the book's feedback oldest first.
func (c *Client) ListFeedback(ctx context.Context, bookID string) ([]domain.FeedbackEntry, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strVal(bookPK(bookID)),
			":prefix": strVal(skFeedbackPrefix),
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListFeedback: %w", err)
	}
	entries := make([]domain.FeedbackEntry, 0, len(items))
	for _, item := range items {
		e := domain.FeedbackEntry{
			ID:      optStrAttr(item, "feedbackId"),
			BookID:  optStrAttr(item, "bookId"),
			Comment: optStrAttr(item, "comment"),
			Source:  optStrAttr(item, "source"),
		}
		if e.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
			return nil, fmt.Errorf("repository: ListFeedback: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// txError maps a cancelled transaction to the sentinel registered for the
// first failing item index. A nil sentinel at that index, or a failure that is
// not a condition failure, returns err unchanged.
func txError(err error, byIndex ...error) error {
	for _, i := range cancelledItems(err) {
		if i < len(byIndex) && byIndex[i] != nil {
			return byIndex[i]
		}
	}
	return err
}

func bookItem(b domain.Book) map[string]types.AttributeValue {
	item := key(bookPK(b.ID), skMeta)
	item["bookId"] = strVal(b.ID)
	item["conversationId"] = strVal(b.ConversationID)
	item["childName"] = strVal(b.ChildName)
	item["theme"] = strVal(b.Theme)
	item["title"] = strVal(b.Title)
	item["language"] = strVal(b.Language)
	item["status"] = strVal(string(b.Status))
	item["createdAt"] = millisVal(b.CreatedAt)
	item["updatedAt"] = millisVal(b.UpdatedAt)
	if b.PdfURL != "" {
		item[string(domain.AssetPdf)] = strVal(b.PdfURL)
	}
	if b.CoverURL != "" {
		item[string(domain.AssetCover)] = strVal(b.CoverURL)
	}
	return item
}

func bookFromItem(item map[string]types.AttributeValue) (domain.Book, error) {
	var (
		b   domain.Book
		err error
		s   string
	)
	if b.ID, err = strAttr(item, "bookId"); err != nil {
		return b, err
	}
	if s, err = strAttr(item, "status"); err != nil {
		return b, err
	}
	b.Status = domain.Stage(s)
	b.ConversationID = optStrAttr(item, "conversationId")
	b.ChildName = optStrAttr(item, "childName")
	b.Theme = optStrAttr(item, "theme")
	b.Title = optStrAttr(item, "title")
	b.Language = optStrAttr(item, "language")
	b.PdfURL = optStrAttr(item, string(domain.AssetPdf))
	b.CoverURL = optStrAttr(item, string(domain.AssetCover))
	if b.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return b, err
	}
	return b, nil
}

func sceneFromItem(item map[string]types.AttributeValue) (domain.Scene, error) {
	var (
		s   domain.Scene
		err error
	)
	if s.SceneID, err = strAttr(item, "sceneId"); err != nil {
		return s, err
	}
	if s.Page, err = intAttr(item, "page"); err != nil {
		return s, err
	}
	s.BookID = optStrAttr(item, "bookId")
	s.Text = optStrAttr(item, "text")
	s.PromptMain = optStrAttr(item, "promptMain")
	s.PromptBackground = optStrAttr(item, "promptBackground")
	s.Status = domain.SceneStatus(optStrAttr(item, "status"))
	s.ImageURL = optStrAttr(item, "imageUrl")
	if s.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return s, err
	}
	return s, nil
}
