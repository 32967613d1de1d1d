package instance_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/zenoh-flow/zenohd/instance"
	"github.com/zenoh-flow/zenohd/session/local"
)

func TestInstanceSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "instance lifecycle suite")
}

var _ = Describe("a local two-node pipeline", func() {
	var (
		bus        *local.Bus
		daemonSess *local.Session
		extSess    *local.Session
		inst       *instance.Instance
	)

	BeforeEach(func() {
		bus = local.NewBus()
		daemonSess = local.NewSession(bus, "rt1")
		extSess = local.NewSession(bus, "external")

		var err error
		inst, err = instance.New(context.Background(), pipelineRecord(), "rt1", daemonSess, noopLoader{})
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Status().Phase).To(Equal(instance.Created))
	})

	// §8 scenario 1: delivers end to end, in order, and aborts cleanly.
	It("delivers a published payload end to end and aborts cleanly", func() {
		sub, err := extSess.DeclareSubscriber("egress/topic")
		Expect(err).NotTo(HaveOccurred())

		Expect(inst.StartAll(context.Background())).To(Succeed())
		Expect(inst.Status().Phase).To(Equal(instance.Running))

		pub, err := extSess.DeclarePublisher("ingress/topic")
		Expect(err).NotTo(HaveOccurred())
		Expect(pub.Put(context.Background(), []byte("payload-1"))).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		smp, err := sub.Recv(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(smp.Payload)).To(Equal("payload-1"))

		Expect(inst.AbortAll(context.Background())).To(Succeed())
		Expect(inst.Status().Phase).To(Equal(instance.Aborted))
	})

	// §8 scenario 3: Abort completes within its bounded deadline even with a
	// message in flight.
	It("aborts within its deadline with a message in flight", func() {
		Expect(inst.StartAll(context.Background())).To(Succeed())

		pub, err := daemonSess.DeclarePublisher("ingress/topic")
		Expect(err).NotTo(HaveOccurred())
		_ = pub.Put(context.Background(), []byte("in-flight"))

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		Expect(inst.AbortAll(ctx)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<=", 200*time.Millisecond))
	})
})
