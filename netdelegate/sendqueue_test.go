package netdelegate

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendQueueDeliversFramesInOrder(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	q := newSendQueue(client)

	received := make(chan []byte, 3)
	go func() {
		for i := 0; i < 3; i++ {
			buf := make([]byte, 5)
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			received <- buf[:n]
		}
	}()

	q.Enqueue([]byte("frst1"))
	q.Enqueue([]byte("scnd2"))
	q.Enqueue([]byte("thrd3"))

	var got [][]byte
	for i := 0; i < 3; i++ {
		select {
		case b := <-received:
			got = append(got, append([]byte(nil), b...))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}

	require.Equal(t, []byte("frst1"), got[0])
	require.Equal(t, []byte("scnd2"), got[1])
	require.Equal(t, []byte("thrd3"), got[2])
}

func TestFrameCacheEncodesOnceOnRepeatedKey(t *testing.T) {
	fc := newFrameCache()
	calls := 0
	encode := func() ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	key := []byte("some-digest")
	v1, err := fc.getOrEncode(key, encode)
	require.NoError(t, err)
	v2, err := fc.getOrEncode(key, encode)
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, 1, calls)
}

func TestFrameCacheEncodesSeparatelyPerKey(t *testing.T) {
	fc := newFrameCache()
	calls := 0
	mk := func(payload string) func() ([]byte, error) {
		return func() ([]byte, error) {
			calls++
			return []byte(payload), nil
		}
	}

	_, err := fc.getOrEncode([]byte("a"), mk("one"))
	require.NoError(t, err)
	_, err = fc.getOrEncode([]byte("b"), mk("two"))
	require.NoError(t, err)

	require.Equal(t, 2, calls)
}
