package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

// TestDrainResults 测试发布结果通道被持续排空
// 通道无缓冲，每次写入都要求排空goroutine及时消费，
// 消费停滞会让sarama的Input背压，发布方全部阻塞
func TestDrainResults(t *testing.T) {
	successes := make(chan *sarama.ProducerMessage)
	errs := make(chan *sarama.ProducerError)

	p := &Producer{}
	done := make(chan struct{})
	go func() {
		p.drainResults(successes, errs)
		close(done)
	}()

	deliver := func(ch chan<- *sarama.ProducerMessage, msg *sarama.ProducerMessage) {
		select {
		case ch <- msg:
		case <-time.After(time.Second):
			t.Error("成功结果未被及时消费")
		}
	}

	for i := 0; i < 100; i++ {
		deliver(successes, &sarama.ProducerMessage{Topic: "message-events"})
	}
	for i := 0; i < 10; i++ {
		select {
		case errs <- &sarama.ProducerError{
			Msg: &sarama.ProducerMessage{Topic: "message-events"},
			Err: errors.New("broker unavailable"),
		}:
		case <-time.After(time.Second):
			t.Error("失败结果未被及时消费")
		}
	}

	close(successes)
	close(errs)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("结果通道关闭后排空goroutine应退出")
	}
}
