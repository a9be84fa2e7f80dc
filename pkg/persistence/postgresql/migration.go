package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Subscription tier catalog, seeded with the built-in plans
			CREATE TABLE proxy_subscription_tiers (
				tier VARCHAR(50) PRIMARY KEY,
				display_name VARCHAR(100) NOT NULL,
				monthly_token_limit BIGINT NOT NULL,
				allowed_models TEXT[] NOT NULL DEFAULT '{}',
				rate_limit_rpm INT NOT NULL DEFAULT 60
			);

			INSERT INTO proxy_subscription_tiers (tier, display_name, monthly_token_limit, allowed_models, rate_limit_rpm) VALUES
				('free', 'Free', 100000,
					ARRAY['gpt-4o-mini', 'gemini-2.0-flash'], 20),
				('starter', 'Starter', 1000000,
					ARRAY['gpt-4o-mini', 'gemini-2.0-flash', 'gpt-4o', 'gemini-2.5-flash', 'claude-3-5-haiku-latest'], 60),
				('pro', 'Pro', 5000000,
					ARRAY['gpt-4o-mini', 'gemini-2.0-flash', 'gpt-4o', 'gemini-2.5-flash', 'claude-3-5-haiku-latest', 'gpt-4.1', 'gemini-2.5-pro', 'claude-sonnet-4-20250514'], 300),
				('enterprise', 'Enterprise', 50000000,
					ARRAY['gpt-4o-mini', 'gemini-2.0-flash', 'gpt-4o', 'gemini-2.5-flash', 'claude-3-5-haiku-latest', 'gpt-4.1', 'gemini-2.5-pro', 'claude-sonnet-4-20250514', 'claude-opus-4-1'], 1000);

			CREATE TABLE proxy_sites (
				id UUID PRIMARY KEY,
				domain VARCHAR(255) NOT NULL UNIQUE,
				api_key VARCHAR(64) NOT NULL UNIQUE,
				label VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'revoked')),
				subscription_tier VARCHAR(50) NOT NULL DEFAULT 'free' REFERENCES proxy_subscription_tiers(tier),
				monthly_token_limit BIGINT NOT NULL DEFAULT 100000,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				revoked_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_proxy_sites_status ON proxy_sites(status);

			CREATE TABLE proxy_request_log (
				id BIGSERIAL PRIMARY KEY,
				site_id UUID NOT NULL REFERENCES proxy_sites(id) ON DELETE CASCADE,
				domain VARCHAR(255) NOT NULL,
				provider VARCHAR(50) NOT NULL,
				model VARCHAR(100) NOT NULL,
				endpoint VARCHAR(255) NOT NULL,
				method VARCHAR(10) NOT NULL,
				prompt_tokens INT NOT NULL DEFAULT 0,
				completion_tokens INT NOT NULL DEFAULT 0,
				total_tokens INT NOT NULL DEFAULT 0,
				response_status INT NOT NULL DEFAULT 0,
				latency_ms BIGINT NOT NULL DEFAULT 0,
				error_message TEXT,
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_proxy_request_log_site_id ON proxy_request_log(site_id, requested_at);
			CREATE INDEX idx_proxy_request_log_requested_at ON proxy_request_log(requested_at);
		`,
		2: `
			CREATE TABLE editor_sessions (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				site_id VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_editor_sessions_user_id ON editor_sessions(user_id, updated_at);
			CREATE INDEX idx_editor_sessions_site_id ON editor_sessions(site_id);

			CREATE TABLE editor_messages (
				id UUID PRIMARY KEY,
				session_id UUID NOT NULL REFERENCES editor_sessions(id) ON DELETE CASCADE,
				role VARCHAR(20) NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
				content TEXT NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_editor_messages_session_id ON editor_messages(session_id, created_at);
		`,
	}
}
