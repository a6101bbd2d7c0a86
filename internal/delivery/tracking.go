package delivery

import (
	"fmt"
	"strings"
)

// GenerateTrackingScript renders the self-contained JS tracking snippet
// injected into HTML deliverables (§6 "Tracking script"), ported from
// original_source/backend/worker/services/tracking_script_generator.py:
// session id kept in localStorage, a 30-second heartbeat, a 30-minute
// inactivity timeout, and sendBeacon on unload. apiURL is the configured
// API_URL/API_GATEWAY_URL (config.Config.APIURL); an empty apiURL yields no
// script, matching the original's "tracking script will not work" guard.
func GenerateTrackingScript(jobID, tenantID, apiURL string) string {
	if apiURL == "" {
		return ""
	}

	escapedJobID := escapeJSString(jobID)
	escapedTenantID := escapeJSString(tenantID)
	escapedAPIURL := escapeJSString(strings.TrimRight(apiURL, "/"))

	return fmt.Sprintf(trackingScriptTemplate, escapedJobID, escapedTenantID, escapedAPIURL)
}

// escapeJSString escapes a string for safe embedding in a single-quoted
// JavaScript string literal: backslashes first, then quotes, newlines,
// carriage returns, tabs, backticks, and forward slashes, matching
// _escape_js_string exactly.
func escapeJSString(value string) string {
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
		"`", "\\`",
		"/", `\/`,
	)
	return replacer.Replace(value)
}

const trackingScriptTemplate = `<!-- Lead Magnet Tracking Script -->
<script>
(function() {
    'use strict';

    var TRACKING_CONFIG = {
        jobId: '%s',
        tenantId: '%s',
        apiUrl: '%s',
        heartbeatInterval: 30000,
        sessionTimeout: 1800000
    };

    var sessionId = localStorage.getItem('lm_session_id');
    var sessionStartTime = localStorage.getItem('lm_session_start');
    var lastActivityTime = Date.now();
    var heartbeatIntervalId = null;

    if (!sessionId || !sessionStartTime) {
        sessionId = 'sess_' + Math.random().toString(36).substring(2, 15) + Math.random().toString(36).substring(2, 15);
        sessionStartTime = new Date().toISOString();
        localStorage.setItem('lm_session_id', sessionId);
        localStorage.setItem('lm_session_start', sessionStartTime);
        sendEvent('session_start', { session_start_time: sessionStartTime });
    }

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', trackPageView);
    } else {
        trackPageView();
    }

    document.addEventListener('click', function(e) {
        var target = e.target;
        var tagName = target.tagName.toLowerCase();
        if (tagName === 'a' || tagName === 'button' || target.closest('a') || target.closest('button')) {
            var link = target.closest('a') || target;
            var href = link.href || link.getAttribute('href') || '';
            var text = (link.textContent || '').trim();
            sendEvent('click', { page_url: window.location.href, click_target: href || text.substring(0, 100) });
        }
    }, true);

    document.addEventListener('visibilitychange', function() {
        if (document.hidden) {
            if (heartbeatIntervalId) {
                clearInterval(heartbeatIntervalId);
                heartbeatIntervalId = null;
            }
        } else {
            lastActivityTime = Date.now();
            startHeartbeat();
        }
    });

    window.addEventListener('beforeunload', function() {
        var sessionDuration = Math.floor((Date.now() - new Date(sessionStartTime).getTime()) / 1000);
        sendEvent('session_end', { session_duration_seconds: sessionDuration, page_url: window.location.href }, true);
    });

    startHeartbeat();

    function trackPageView() {
        sendEvent('page_view', { page_url: window.location.href, page_title: document.title || '' });
    }

    function startHeartbeat() {
        if (heartbeatIntervalId) {
            clearInterval(heartbeatIntervalId);
        }
        heartbeatIntervalId = setInterval(function() {
            var now = Date.now();
            var timeSinceLastActivity = now - lastActivityTime;
            if (timeSinceLastActivity > TRACKING_CONFIG.sessionTimeout) {
                var sessionDuration = Math.floor((now - new Date(sessionStartTime).getTime()) / 1000);
                sendEvent('session_end', { session_duration_seconds: sessionDuration });
                sessionId = 'sess_' + Math.random().toString(36).substring(2, 15) + Math.random().toString(36).substring(2, 15);
                sessionStartTime = new Date().toISOString();
                localStorage.setItem('lm_session_id', sessionId);
                localStorage.setItem('lm_session_start', sessionStartTime);
                sendEvent('session_start', { session_start_time: sessionStartTime });
            } else {
                var duration = Math.floor((now - new Date(sessionStartTime).getTime()) / 1000);
                sendEvent('heartbeat', { session_duration_seconds: duration, page_url: window.location.href });
            }
        }, TRACKING_CONFIG.heartbeatInterval);
    }

    ['mousedown', 'mousemove', 'keypress', 'scroll', 'touchstart'].forEach(function(evt) {
        document.addEventListener(evt, function() { lastActivityTime = Date.now(); }, { passive: true });
    });

    function sendEvent(eventType, additionalData, synchronous) {
        var eventData = {
            job_id: TRACKING_CONFIG.jobId,
            event_type: eventType,
            session_id: sessionId,
            session_start_time: sessionStartTime,
            page_url: window.location.href,
            page_title: document.title || '',
            user_agent: navigator.userAgent,
            referrer: document.referrer || ''
        };
        for (var k in additionalData) { eventData[k] = additionalData[k]; }

        if (synchronous && navigator.sendBeacon) {
            var blob = new Blob([JSON.stringify(eventData)], { type: 'application/json' });
            navigator.sendBeacon(TRACKING_CONFIG.apiUrl + '/v1/tracking/event', blob);
        } else {
            fetch(TRACKING_CONFIG.apiUrl + '/v1/tracking/event', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(eventData),
                keepalive: true
            }).catch(function() {});
        }
    }
})();
</script>`
