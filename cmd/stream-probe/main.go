package main

import (
	"context"
	"flag"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leoncaiau912/prometheus-proxy/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// stream-probe registers a fake agent with a proxy and answers every scrape
// with a canned body. Useful for poking at a running proxy by hand.

var (
	address  = flag.String("address", "localhost:50051", "Proxy gRPC address")
	name     = flag.String("name", "stream-probe", "Agent name to register with")
	paths    = flag.String("paths", "probe_metrics", "Comma separated scrape paths to announce")
	body     = flag.String("body", "probe_up 1\n", "Body returned for every scrape")
	pings    = flag.Int("pings", 3, "Number of PING messages to send")
	delay    = flag.Duration("delay", 2*time.Second, "Delay between PING messages")
	lifetime = flag.Duration("lifetime", 60*time.Second, "How long to stay connected")
)

func main() {
	flag.Parse()

	log.Printf("Connecting to proxy at %s", *address)

	conn, err := grpc.NewClient(*address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *lifetime)
	defer cancel()

	stream, err := proto.NewProxyServiceClient(conn).Stream(ctx)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	register := &proto.ProxyMessage{
		Id:   uuid.New().String(),
		Type: proto.MessageType_REGISTER,
		Metadata: map[string]string{
			proto.MetaAgentName: *name,
			proto.MetaHostName:  "stream-probe",
			proto.MetaPaths:     *paths,
		},
	}
	if err := stream.Send(register); err != nil {
		log.Fatalf("Failed to send REGISTER: %v", err)
	}

	ack, err := stream.Recv()
	if err != nil {
		log.Fatalf("Failed to receive REGISTER_ACK: %v", err)
	}
	log.Printf("Registered agent_id=%s paths=%s", ack.GetMetadata(proto.MetaAgentID), *paths)

	// Replies are queued so only the main goroutine calls stream.Send.
	replies := make(chan *proto.ProxyMessage, 16)
	errChan := make(chan error, 1)
	go receiveMessages(stream, replies, errChan)

	ticker := time.NewTicker(*delay)
	defer ticker.Stop()
	sent := 0

	for {
		select {
		case reply := <-replies:
			if err := stream.Send(reply); err != nil {
				log.Fatalf("Failed to send reply: %v", err)
			}
		case <-ticker.C:
			if sent >= *pings {
				continue
			}
			sent++
			ping := &proto.ProxyMessage{Id: uuid.New().String(), Type: proto.MessageType_PING}
			if err := stream.Send(ping); err != nil {
				log.Fatalf("Failed to send PING: %v", err)
			}
			log.Printf("Sent PING id=%s", ping.Id)
		case err := <-errChan:
			if err != io.EOF {
				log.Printf("Receive error: %v", err)
			}
			log.Println("Stream probe finished")
			return
		}
	}
}

func receiveMessages(stream proto.ProxyService_StreamClient, replies chan<- *proto.ProxyMessage, errChan chan<- error) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			errChan <- err
			return
		}

		switch msg.Type {
		case proto.MessageType_PONG:
			log.Printf("Received PONG id=%s", msg.Id)
		case proto.MessageType_SCRAPE_REQUEST:
			path := msg.GetMetadata(proto.MetaPath)
			log.Printf("Received SCRAPE_REQUEST scrape_id=%d path=%s", msg.ScrapeId, path)
			replies <- &proto.ProxyMessage{
				Id:       uuid.New().String(),
				Type:     proto.MessageType_SCRAPE_RESPONSE,
				ScrapeId: msg.ScrapeId,
				Payload:  []byte(*body),
				Metadata: map[string]string{
					proto.MetaValid:       "true",
					proto.MetaStatusCode:  strconv.Itoa(200),
					proto.MetaContentType: "text/plain; version=0.0.4",
					proto.MetaURL:         "probe://" + strings.TrimPrefix(path, "/"),
				},
			}
		default:
			log.Printf("Received message type=%s id=%s", msg.Type, msg.Id)
		}
	}
}
