package redisstore

// Key layout, all under a configurable prefix:
//
//	{prefix}:job:{id}           job document (JSON string)
//	{prefix}:{queue}:jobs       sorted set of every job id, scored by creation time
//	{prefix}:{queue}:wait       list of waiting job ids, FIFO
//	{prefix}:{queue}:delayed    sorted set scored by availability time
//	{prefix}:{queue}:active     sorted set scored by claim time
//	{prefix}:{queue}:completed  set of retained completed job ids
//	{prefix}:{queue}:failed     set of failed job ids

type keys struct {
	prefix string
}

func (k keys) job(id string) string { return k.prefix + ":job:" + id }

func (k keys) all(queue string) string { return k.prefix + ":" + queue + ":jobs" }

func (k keys) wait(queue string) string { return k.prefix + ":" + queue + ":wait" }

func (k keys) delayed(queue string) string { return k.prefix + ":" + queue + ":delayed" }

func (k keys) active(queue string) string { return k.prefix + ":" + queue + ":active" }

func (k keys) completed(queue string) string { return k.prefix + ":" + queue + ":completed" }

func (k keys) failed(queue string) string { return k.prefix + ":" + queue + ":failed" }
