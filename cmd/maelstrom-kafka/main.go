// Command maelstrom-kafka implements a hash-partitioned append-only log,
// grounded file-for-file on original_source/src/bin/kafka/main.rs. Each log
// key is owned by exactly one node (node_ids[hash(key)%len(node_ids)]); a
// request that touches another node's partition is handed to a background
// worker instead of issuing the cross-node RPC inline, because two nodes
// simultaneously waiting on each other's forwarded request would deadlock
// the single-threaded handler loop (see the original's header comment for
// the exact scenario).
package main

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	maelnode "github.com/distsys-labs/maelnode"
)

type sendBody struct {
	maelnode.MessageBody
	Key string `json:"key"`
	Msg int    `json:"msg"`
}

type sendOkBody struct {
	maelnode.MessageBody
	Offset int `json:"offset"`
}

type pollBody struct {
	maelnode.MessageBody
	Offsets map[string]int `json:"offsets"`
}

type pollOkBody struct {
	maelnode.MessageBody
	Msgs map[string][][2]int `json:"msgs"`
}

type commitOffsetsBody struct {
	maelnode.MessageBody
	Offsets map[string]int `json:"offsets"`
}

type listCommittedOffsetsBody struct {
	maelnode.MessageBody
	Keys []string `json:"keys"`
}

type listCommittedOffsetsOkBody struct {
	maelnode.MessageBody
	Offsets map[string]int `json:"offsets"`
}

func partitionFor(key string, nodeIDs []string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return nodeIDs[h.Sum64()%uint64(len(nodeIDs))]
}

type partitionLog struct {
	commitOffset int
	entries      map[int]int // offset -> value
}

type sendJob struct {
	clientSend maelnode.Message
	key        string
	value      int
	partition  string
}

type pollJob struct {
	clientPoll maelnode.Message
	offsets    map[string]int
	msgs       map[string][][2]int
}

type listJob struct {
	clientList maelnode.Message
	keys       []string
	offsets    map[string]int
}

type kafkaNode struct {
	*maelnode.HandlerNode

	nodeIDs []string
	seq     int64

	mu   sync.Mutex
	logs map[string]*partitionLog

	sendJobs chan sendJob
	pollJobs chan pollJob
	listJobs chan listJob
}

func newKafkaNode(net *maelnode.Network, id string, nodeIDs []string) *kafkaNode {
	n := &kafkaNode{
		HandlerNode: maelnode.NewHandlerNode(net, id, nodeIDs),
		nodeIDs:     nodeIDs,
		logs:        make(map[string]*partitionLog),
		sendJobs:    make(chan sendJob, 64),
		pollJobs:    make(chan pollJob, 64),
		listJobs:    make(chan listJob, 64),
	}

	n.Handle("send", n.handleSend)
	n.Handle("poll", n.handlePoll)
	n.Handle("commit_offsets", n.handleCommitOffsets)
	n.Handle("list_committed_offsets", n.handleListCommittedOffsets)

	go n.sendWorker()
	go n.pollWorker()
	go n.listWorker()

	return n
}

func (n *kafkaNode) nextSeq() int { return int(atomic.AddInt64(&n.seq, 1)) }

func (n *kafkaNode) logFor(key string) *partitionLog {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.logs[key]
	if !ok {
		l = &partitionLog{entries: make(map[int]int)}
		n.logs[key] = l
	}
	return l
}

func (n *kafkaNode) handleSend(msg maelnode.Message) error {
	var body sendBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}

	partition := partitionFor(body.Key, n.nodeIDs)
	if partition != n.ID() {
		n.sendJobs <- sendJob{clientSend: msg, key: body.Key, value: body.Msg, partition: partition}
		return nil
	}

	l := n.logFor(body.Key)
	n.mu.Lock()
	offset := 0
	for existing := range l.entries {
		if existing >= offset {
			offset = existing + 1
		}
	}
	l.entries[offset] = body.Msg
	n.mu.Unlock()

	return n.Reply(msg, sendOkBody{
		MessageBody: maelnode.MessageBody{Type: "send_ok"},
		Offset:      offset,
	})
}

func (n *kafkaNode) handlePoll(msg maelnode.Message) error {
	var body pollBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}

	msgs := make(map[string][][2]int)
	remote := false
	for key, minOffset := range body.Offsets {
		if partitionFor(key, n.nodeIDs) != n.ID() {
			remote = true
			continue
		}
		l := n.logFor(key)
		n.mu.Lock()
		for offset, value := range l.entries {
			if offset >= minOffset {
				msgs[key] = append(msgs[key], [2]int{offset, value})
			}
		}
		n.mu.Unlock()
		sort.Slice(msgs[key], func(i, j int) bool { return msgs[key][i][0] < msgs[key][j][0] })
	}

	if !remote {
		return n.Reply(msg, pollOkBody{MessageBody: maelnode.MessageBody{Type: "poll_ok"}, Msgs: msgs})
	}

	n.pollJobs <- pollJob{clientPoll: msg, offsets: body.Offsets, msgs: msgs}
	return nil
}

func (n *kafkaNode) handleCommitOffsets(msg maelnode.Message) error {
	var body commitOffsetsBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}

	for key, offset := range body.Offsets {
		if partitionFor(key, n.nodeIDs) == n.ID() {
			l := n.logFor(key)
			n.mu.Lock()
			l.commitOffset = offset
			n.mu.Unlock()
			continue
		}

		dest := partitionFor(key, n.nodeIDs)
		remoteBody, err := maelnode.NewBodyBuilder(commitOffsetsBody{
			MessageBody: maelnode.MessageBody{Type: "commit_offsets"},
			Offsets:     map[string]int{key: offset},
		}).MsgID(n.nextSeq()).Build()
		if err != nil {
			return err
		}
		if err := n.Send(maelnode.Message{Src: n.ID(), Dest: dest, Body: remoteBody}); err != nil {
			log.Printf("kafka: forward commit for %s to %s failed: %s", key, dest, err)
		}
	}

	return n.Reply(msg, maelnode.MessageBody{Type: "commit_offsets_ok"})
}

func (n *kafkaNode) handleListCommittedOffsets(msg maelnode.Message) error {
	var body listCommittedOffsetsBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}

	offsets := make(map[string]int)
	remote := false
	for _, key := range body.Keys {
		if partitionFor(key, n.nodeIDs) != n.ID() {
			remote = true
			continue
		}
		l := n.logFor(key)
		n.mu.Lock()
		offsets[key] = l.commitOffset
		n.mu.Unlock()
	}
	log.Printf("kafka: serving %d local committed offsets: %v", len(offsets), maps.Keys(offsets))

	if !remote {
		return n.Reply(msg, listCommittedOffsetsOkBody{
			MessageBody: maelnode.MessageBody{Type: "list_committed_offsets_ok"},
			Offsets:     offsets,
		})
	}

	n.listJobs <- listJob{clientList: msg, keys: body.Keys, offsets: offsets}
	return nil
}

func (n *kafkaNode) sendWorker() {
	for job := range n.sendJobs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reply, err := n.SyncRPCTo(ctx, job.partition, sendBody{
			MessageBody: maelnode.MessageBody{Type: "send"},
			Key:         job.key,
			Msg:         job.value,
		})
		cancel()
		if err != nil {
			log.Printf("kafka: forward send for %s to %s failed: %s", job.key, job.partition, err)
			continue
		}

		var remoteOk sendOkBody
		if err := json.Unmarshal(reply.Body, &remoteOk); err != nil {
			log.Printf("kafka: unmarshal send_ok: %s", err)
			continue
		}

		if err := n.Reply(job.clientSend, sendOkBody{
			MessageBody: maelnode.MessageBody{Type: "send_ok"},
			Offset:      remoteOk.Offset,
		}); err != nil {
			log.Printf("kafka: reply send_ok to client: %s", err)
		}
	}
}

func (n *kafkaNode) pollWorker() {
	for job := range n.pollJobs {
		msgs := job.msgs
		for key, minOffset := range job.offsets {
			partition := partitionFor(key, n.nodeIDs)
			if partition == n.ID() {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			reply, err := n.SyncRPCTo(ctx, partition, pollBody{
				MessageBody: maelnode.MessageBody{Type: "poll"},
				Offsets:     map[string]int{key: minOffset},
			})
			cancel()
			if err != nil {
				log.Printf("kafka: remote poll for %s on %s failed: %s", key, partition, err)
				continue
			}

			var remoteOk pollOkBody
			if err := json.Unmarshal(reply.Body, &remoteOk); err != nil {
				log.Printf("kafka: unmarshal poll_ok: %s", err)
				continue
			}
			for k, v := range remoteOk.Msgs {
				msgs[k] = append(msgs[k], v...)
			}
		}

		if err := n.Reply(job.clientPoll, pollOkBody{MessageBody: maelnode.MessageBody{Type: "poll_ok"}, Msgs: msgs}); err != nil {
			log.Printf("kafka: reply poll_ok to client: %s", err)
		}
	}
}

func (n *kafkaNode) listWorker() {
	for job := range n.listJobs {
		offsets := job.offsets
		for _, key := range job.keys {
			partition := partitionFor(key, n.nodeIDs)
			if partition == n.ID() {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			reply, err := n.SyncRPCTo(ctx, partition, listCommittedOffsetsBody{
				MessageBody: maelnode.MessageBody{Type: "list_committed_offsets"},
				Keys:        []string{key},
			})
			cancel()
			if err != nil {
				log.Printf("kafka: remote list_committed_offsets for %s on %s failed: %s", key, partition, err)
				continue
			}

			var remoteOk listCommittedOffsetsOkBody
			if err := json.Unmarshal(reply.Body, &remoteOk); err != nil {
				log.Printf("kafka: unmarshal list_committed_offsets_ok: %s", err)
				continue
			}
			for k, v := range remoteOk.Offsets {
				offsets[k] = v
			}
		}

		if err := n.Reply(job.clientList, listCommittedOffsetsOkBody{
			MessageBody: maelnode.MessageBody{Type: "list_committed_offsets_ok"},
			Offsets:     offsets,
		}); err != nil {
			log.Printf("kafka: reply list_committed_offsets_ok to client: %s", err)
		}
	}
}

func main() {
	rt := maelnode.NewRuntime(func(net *maelnode.Network, id string, nodeIDs []string) (maelnode.Node, error) {
		return newKafkaNode(net, id, nodeIDs), nil
	})

	if err := rt.Run(); err != nil {
		log.Fatal(err)
	}
}
