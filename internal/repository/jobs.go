package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booksoul/internal/domain"
)

const (
	condJobPending  = "#status = :pending"
	condJobOwned    = "#status = :processing AND leasedBy = :owner"
	condJobLeaseAge = "#status = :processing AND leaseExpiresAt = :expires"
)

// EnqueueJob creates a job record. A job id is never reused.
func (c *Client) EnqueueJob(ctx context.Context, job domain.Job) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                jobItem(job),
		ConditionExpression: aws.String(condItemAbsent),
	})
	if conditionFailed(err) {
		return fmt.Errorf("repository: EnqueueJob %s: %w", job.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("repository: EnqueueJob: %w", err)
	}
	return nil
}

func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(jobPK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("repository: GetJob: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Job{}, fmt.Errorf("repository: GetJob %s: %w", id, domain.ErrNotFound)
	}
	return jobFromItem(out.Item)
}

// ListJobsByStatus returns up to limit jobs in the given status, oldest first.
// The status index is eventually consistent; callers must claim before acting.
func (c *Client) ListJobsByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsiJobStatus),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": strVal(jobStatusKey(string(status))),
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	}
	return c.collectJobs(ctx, in, limit, "ListJobsByStatus")
}

// ListExpiredLeases returns processing jobs whose lease ended before now.
func (c *Client) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsiJobStatus),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		FilterExpression:       aws.String("leaseExpiresAt > :zero AND leaseExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   strVal(jobStatusKey(string(domain.JobProcessing))),
			":zero": numVal(0),
			":now":  millisVal(now),
		},
		ScanIndexForward: aws.Bool(true),
	}
	return c.collectJobs(ctx, in, limit, "ListExpiredLeases")
}

func (c *Client) collectJobs(ctx context.Context, in *dynamodb.QueryInput, limit int, op string) ([]domain.Job, error) {
	var jobs []domain.Job
	for len(jobs) < limit {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: %s: %w", op, err)
		}
		for _, item := range out.Items {
			j, err := jobFromItem(item)
			if err != nil {
				return nil, fmt.Errorf("repository: %s: %w", op, err)
			}
			jobs = append(jobs, j)
			if len(jobs) == limit {
				break
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return jobs, nil
}

// ClaimJob moves a pending job to processing on behalf of owner. Exactly one
// concurrent caller wins; losers get (Job{}, false, nil). A zero leaseUntil
// records a lease without expiry.
func (c *Client) ClaimJob(ctx context.Context, id, owner string, at, leaseUntil time.Time) (domain.Job, bool, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(jobPK(id), skMeta),
		UpdateExpression:    aws.String("SET #status = :processing, GSI1PK = :gsi, leasedBy = :owner, leaseExpiresAt = :expires, updatedAt = :at ADD attempts :one"),
		ConditionExpression: aws.String(condJobPending),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":    strVal(string(domain.JobPending)),
			":processing": strVal(string(domain.JobProcessing)),
			":gsi":        strVal(jobStatusKey(string(domain.JobProcessing))),
			":owner":      strVal(owner),
			":expires":    millisVal(leaseUntil),
			":at":         millisVal(at),
			":one":        numVal(1),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if conditionFailed(err) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("repository: ClaimJob: %w", err)
	}
	job, err := jobFromItem(out.Attributes)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("repository: ClaimJob: %w", err)
	}
	return job, true, nil
}

// FinalizeJob records the terminal outcome of a job the owner holds. It
// returns false without error when the job is no longer held by owner, which
// happens after a reclaim.
func (c *Client) FinalizeJob(ctx context.Context, id, owner string, status domain.JobStatus, resultRef string, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("repository: FinalizeJob: status %q is not terminal", status)
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(jobPK(id), skMeta),
		UpdateExpression:    aws.String("SET #status = :final, GSI1PK = :gsi, resultRef = :ref, updatedAt = :at REMOVE leaseExpiresAt"),
		ConditionExpression: aws.String(condJobOwned),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": strVal(string(domain.JobProcessing)),
			":owner":      strVal(owner),
			":final":      strVal(string(status)),
			":gsi":        strVal(jobStatusKey(string(status))),
			":ref":        strVal(resultRef),
			":at":         millisVal(at),
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if conditionFailed(err) {
		if len(oldItemOnConditionFailure(err)) == 0 {
			return false, fmt.Errorf("repository: FinalizeJob %s: %w", id, domain.ErrNotFound)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: FinalizeJob: %w", err)
	}
	return true, nil
}

// ReclaimJob returns an expired lease to pending. The condition pins the lease
// expiry that was observed so a job re-leased in the meantime is untouched.
func (c *Client) ReclaimJob(ctx context.Context, id string, leaseExpiresAt, at time.Time) (bool, error) {
	if leaseExpiresAt.IsZero() {
		return false, errors.New("repository: ReclaimJob: lease has no expiry")
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(jobPK(id), skMeta),
		UpdateExpression:    aws.String("SET #status = :pending, GSI1PK = :gsi, updatedAt = :at REMOVE leasedBy, leaseExpiresAt"),
		ConditionExpression: aws.String(condJobLeaseAge),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": strVal(string(domain.JobProcessing)),
			":pending":    strVal(string(domain.JobPending)),
			":gsi":        strVal(jobStatusKey(string(domain.JobPending))),
			":expires":    millisVal(leaseExpiresAt),
			":at":         millisVal(at),
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: ReclaimJob: %w", err)
	}
	return true, nil
}

func jobItem(job domain.Job) map[string]types.AttributeValue {
	item := key(jobPK(job.ID), skMeta)
	item["GSI1PK"] = strVal(jobStatusKey(string(job.Status)))
	item["GSI1SK"] = strVal(jobOrderKey(job.CreatedAt, job.ID))
	item["jobId"] = strVal(job.ID)
	item["subjectId"] = strVal(job.SubjectID)
	item["type"] = strVal(string(job.Type))
	item["status"] = strVal(string(job.Status))
	item["attempts"] = numVal(int64(job.Attempts))
	item["createdAt"] = millisVal(job.CreatedAt)
	item["updatedAt"] = millisVal(job.UpdatedAt)
	if job.ResultRef != "" {
		item["resultRef"] = strVal(job.ResultRef)
	}
	if job.LeasedBy != "" {
		item["leasedBy"] = strVal(job.LeasedBy)
	}
	if !job.LeaseExpiresAt.IsZero() {
		item["leaseExpiresAt"] = millisVal(job.LeaseExpiresAt)
	}
	return item
}

func jobFromItem(item map[string]types.AttributeValue) (domain.Job, error) {
	var (
		j   domain.Job
		err error
		s   string
	)
	if j.ID, err = strAttr(item, "jobId"); err != nil {
		return j, err
	}
	j.SubjectID = optStrAttr(item, "subjectId")
	if s, err = strAttr(item, "type"); err != nil {
		return j, err
	}
	j.Type = domain.JobType(s)
	if s, err = strAttr(item, "status"); err != nil {
		return j, err
	}
	j.Status = domain.JobStatus(s)
	if _, ok := item["attempts"]; ok {
		if j.Attempts, err = intAttr(item, "attempts"); err != nil {
			return j, err
		}
	}
	j.ResultRef = optStrAttr(item, "resultRef")
	j.LeasedBy = optStrAttr(item, "leasedBy")
	if j.LeaseExpiresAt, err = timeAttr(item, "leaseExpiresAt"); err != nil {
		return j, err
	}
	if j.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return j, err
	}
	if j.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return j, err
	}
	return j, nil
}
