package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type countingQueue struct {
	*MemoryQueue
	mu      sync.Mutex
	deletes int
}

func (c *countingQueue) Delete(ctx context.Context, handle string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	return c.MemoryQueue.Delete(ctx, handle)
}

func sampleBooking() BookingConfirmed {
	return BookingConfirmed{
		BookingID:       "appt-77",
		CallID:          "call-1",
		PracticeID:      "prac-1",
		PracticeName:    "Bright Smiles",
		OfficePhone:     "555-000-1111",
		PatientName:     "Jane Doe",
		PatientEmail:    "jane@example.com",
		AppointmentType: "teeth cleaning",
		When:            "Monday, March 3 at 9:00 AM",
	}
}

func TestPublisherAndWorkerDeliverConfirmation(t *testing.T) {
	queue := NewMemoryQueue(4)
	sender := &recordingSender{}

	require.NoError(t, NewPublisher(queue, nil).PublishBookingConfirmed(context.Background(), sampleBooking()))

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(queue, sender, nil, WithReceiveWaitSeconds(1))
	worker.Start(ctx)

	require.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	worker.Wait()

	msg := sender.sent[0]
	assert.Equal(t, "jane@example.com", msg.To)
	assert.Equal(t, "Your teeth cleaning appointment is confirmed", msg.Subject)
	assert.Contains(t, msg.Text, "Monday, March 3 at 9:00 AM")
	assert.Contains(t, msg.Text, "appt-77")
	assert.Equal(t, CategoryBookingConfirmation, msg.Category)
	assert.Equal(t, "prac-1", msg.PracticeID)
}

func TestWorkerLeavesFailedDeliveriesForRetry(t *testing.T) {
	queue := &countingQueue{MemoryQueue: NewMemoryQueue(4)}
	worker := NewWorker(queue, &recordingSender{err: errors.New("smtp down")}, nil)

	body, err := json.Marshal(envelope{ID: "job-1", Kind: kindBookingConfirmed, Booking: ptr(sampleBooking())})
	require.NoError(t, err)
	worker.handleMessage(context.Background(), Message{ID: "m1", Body: string(body), ReceiptHandle: "r1"})
	assert.Equal(t, 0, queue.deletes)

	worker.handleMessage(context.Background(), Message{ID: "m2", Body: "{not json", ReceiptHandle: "r2"})
	assert.Equal(t, 1, queue.deletes)
}

func TestWorkerSkipsBookingsWithoutEmail(t *testing.T) {
	sender := &recordingSender{}
	worker := NewWorker(NewMemoryQueue(1), sender, nil)
	evt := sampleBooking()
	evt.PatientEmail = ""
	assert.NoError(t, worker.process(context.Background(), envelope{Kind: kindBookingConfirmed, Booking: &evt}))
	assert.Equal(t, 0, sender.count())
}

func TestConfirmationEmailEscapesHTML(t *testing.T) {
	evt := sampleBooking()
	evt.PatientName = "<b>Jane</b>"
	msg := ConfirmationEmail(evt)
	assert.Contains(t, msg.HTML, "&lt;b&gt;Jane&lt;/b&gt;")
	assert.Contains(t, msg.Text, "<b>Jane</b>")
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	msgs, err := NewMemoryQueue(1).Receive(context.Background(), 1, 1)
	assert.NoError(t, err)
	assert.Empty(t, msgs)
}

type fakeSQS struct {
	sent    *sqs.SendMessageInput
	deleted *sqs.DeleteMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = in
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		{MessageId: aws.String("m1"), Body: aws.String("{}"), ReceiptHandle: aws.String("rh-1")},
	}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = in
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.local/queue")
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "payload"))
	assert.Equal(t, "payload", aws.ToString(api.sent.MessageBody))

	msgs, err := q.Receive(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(ctx, "rh-1"))
	assert.Equal(t, "rh-1", aws.ToString(api.deleted.ReceiptHandle))
	require.NoError(t, q.Delete(ctx, ""))
}

func ptr[T any](v T) *T { return &v }
