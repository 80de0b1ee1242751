package protocol

// NewCacheGetHit builds a successful cacheGet response.
func NewCacheGetHit(token int64, value any) Message {
	return New(CmdCacheGet, map[string]any{
		ParamToken: token,
		ParamValue: value,
	})
}

// NewCacheGetMiss builds a failed cacheGet response: the token without a
// value.
func NewCacheGetMiss(token int64) Message {
	return New(CmdCacheGet, map[string]any{
		ParamToken: token,
	})
}
