package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	http *http.Client
	base string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.Uint("product", 1, "product id")
	sellerID := flag.Uint("seller", 1, "user id with manage_products capability")
	stock := flag.Int64("stock", 1, "set stock before the test, -1 keeps current stock")
	deliveryID := flag.Uint("delivery", 1, "delivery method id")
	paymentID := flag.Uint("payment", 1, "payment method id")

	// 超卖测试参数：200 个用户并发抢 1 件
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	c := &client{http: &http.Client{Timeout: 10 * time.Second}, base: *baseURL}

	if *stock >= 0 {
		res := c.do(http.MethodPost, fmt.Sprintf("/api/seller/products/%d/stock", *productID), *sellerID,
			map[string]any{"action": "set", "quantity": *stock}, nil)
		if res.Err != nil || res.Status != http.StatusOK {
			panic(fmt.Sprintf("set stock failed: status=%d err=%v body=%s", res.Status, res.Err, res.Body))
		}
		fmt.Println("stock set to", *stock)
	}
	before, err := c.stock(*productID, *sellerID)
	if err != nil {
		panic(fmt.Sprintf("read stock: %v", err))
	}

	run := uuid.NewString()[:8]
	fmt.Printf("registering %d users (run %s)\n", *nUsers, run)
	users := c.registerUsers(run, *nUsers, *concurrency)
	if len(users) == 0 {
		panic("no users registered")
	}

	checkout := func(userID uint, key string) Result {
		body := map[string]any{
			"items":              []map[string]any{{"product_id": *productID, "quantity": 1}},
			"delivery_method_id": *deliveryID,
			"payment_method_id":  *paymentID,
		}
		return c.do(http.MethodPost, "/api/checkout", userID, body, map[string]string{"Idempotency-Key": key})
	}

	// 1) 不超卖测试：不同用户并发
	fmt.Printf("start oversell test: product=%d stock=%d users=%d concurrency=%d\n", *productID, before, len(users), *concurrency)
	results := parallel(len(users), *concurrency, func(i int) Result {
		return checkout(users[i], uuid.NewString())
	})
	printSummary("oversell", results)

	after, err := c.stock(*productID, *sellerID)
	if err != nil {
		fmt.Println("stock check err:", err)
	} else {
		won := countStatus(results, http.StatusCreated)
		fmt.Printf("final stock: %d (orders created: %d)\n", after, won)
		if after < 0 || before-after != int64(won) {
			fmt.Println("OVERSELL DETECTED")
		}
	}

	// 2) 幂等测试：同一用户同一个 key 并发提交，最多落一单
	fmt.Println("\nstart idempotency test: same user, same key, 20 requests")
	key := uuid.NewString()
	results2 := parallel(20, 20, func(int) Result { return checkout(users[0], key) })
	printSummary("idempotency", results2)

	// 3) 限流测试：同一用户用不同 key 连续下单，超过窗口上限后返回 429
	fmt.Println("\nstart rate limit test: same user, 50 requests, concurrency 50")
	results3 := parallel(50, 50, func(int) Result { return checkout(users[0], uuid.NewString()) })
	printSummary("rate_limit", results3)
}

// registerUsers 注册一批顾客并各自添加默认地址，返回成功的用户 ID。
func (c *client) registerUsers(run string, n, concurrency int) []uint {
	ids := make([]uint, n)
	parallel(n, concurrency, func(i int) Result {
		tag := fmt.Sprintf("%s-%d", run, i)
		res := c.do(http.MethodPost, "/api/users", 0, map[string]any{
			"username": "load-" + tag,
			"email":    "load-" + tag + "@example.com",
			"password": "loadtest-pass",
		}, nil)
		if res.Err != nil || res.Status != http.StatusCreated {
			return res
		}
		var env envelope
		var u struct {
			ID uint `json:"id"`
		}
		if json.Unmarshal([]byte(res.Body), &env) != nil || json.Unmarshal(env.Data, &u) != nil {
			return res
		}
		addr := c.do(http.MethodPost, "/api/addresses", u.ID, map[string]any{
			"title": "Home", "address": "Load street " + strconv.Itoa(i), "is_default": true,
		}, nil)
		if addr.Status == http.StatusCreated {
			ids[i] = u.ID
		}
		return addr
	})

	out := ids[:0]
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}

// stock 通过卖家接口读取数据库中的库存（不经过缓存）。
func (c *client) stock(productID, sellerID uint) (int64, error) {
	res := c.do(http.MethodGet, fmt.Sprintf("/api/seller/products/%d", productID), sellerID, nil, nil)
	if res.Err != nil {
		return 0, res.Err
	}
	if res.Status >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", res.Status, res.Body)
	}
	var env envelope
	if err := json.Unmarshal([]byte(res.Body), &env); err != nil {
		return 0, err
	}
	var p struct {
		StockQuantity int64 `json:"stock_quantity"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return 0, err
	}
	return p.StockQuantity, nil
}

func (c *client) do(method, path string, userID uint, body any, headers map[string]string) Result {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, c.base+path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatUint(uint64(userID), 10))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

// parallel 以 concurrency 为上限并发执行 n 次 fn。
func parallel(n, concurrency int, fn func(i int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func countStatus(results []Result, status int) int {
	n := 0
	for _, r := range results {
		if r.Err == nil && r.Status == status {
			n++
		}
	}
	return n
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
