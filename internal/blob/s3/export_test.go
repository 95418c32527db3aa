package s3blob

func (c *Client) Key(path string) string { return c.key(path) }

func (c *Client) Path(key string) string { return c.path(key) }

var WithScheme = withScheme
